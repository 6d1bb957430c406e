package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/database/postgres"
	"github.com/kozaktomas/faceauth/internal/facematch"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage enrolled face templates",
	Long:  `Commands for listing, importing, auditing and querying stored face templates.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE:  runTemplatesList,
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete <identity>",
	Short: "Delete the template of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesDelete,
}

var templatesImportCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Enroll every image in a directory",
	Long: `Enroll every image in a directory. The file name without extension is
the identity, so "Alice.jpg" enrolls "alice".

Images without a detectable face and identities that are already enrolled
are skipped and reported.

Examples:
  faceauth templates import ./faces
  faceauth templates import ./faces --replace --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplatesImport,
}

var templatesAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find identities whose templates are dangerously close",
	Long: `Find pairs of enrolled identities whose templates lie closer than the
acceptance threshold. A probe of either person could then be accepted as the
other, so such pairs should be re-enrolled with better images.`,
	RunE: runTemplatesAudit,
}

var templatesNearestCmd = &cobra.Command{
	Use:   "nearest <image>",
	Short: "Show the templates nearest to the face in an image",
	Long: `Extract the face in an image and list the nearest enrolled templates using
the pgvector index in PostgreSQL. Requires the postgres driver.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplatesNearest,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesDeleteCmd, templatesImportCmd, templatesAuditCmd, templatesNearestCmd)

	templatesListCmd.Flags().Bool("json", false, "Output as JSON")

	templatesImportCmd.Flags().Bool("replace", false, "Replace existing templates")
	templatesImportCmd.Flags().Int("concurrency", 4, "Number of images processed in parallel")

	templatesAuditCmd.Flags().Float64("threshold", 0, "Distance below which a pair is reported (default: ACCEPT_THRESHOLD)")
	templatesAuditCmd.Flags().Int("neighbors", 5, "Neighbors examined per template")
	templatesAuditCmd.Flags().Bool("json", false, "Output as JSON")

	templatesNearestCmd.Flags().Int("limit", 5, "Number of templates to show")
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	templates, err := database.GetTemplateReader(ctx)
	if err != nil {
		return err
	}
	identities, err := templates.ListIdentities(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(identities)
	}

	for _, id := range identities {
		fmt.Println(id)
	}
	fmt.Printf("\n%d templates\n", len(identities))
	return nil
}

func runTemplatesDelete(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	templates, err := database.GetTemplateWriter(ctx)
	if err != nil {
		return err
	}

	identity := facematch.NormalizeIdentity(args[0])
	if err := templates.DeleteTemplate(ctx, identity); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no template for %s", identity)
		}
		return err
	}
	logger.Info("template deleted", zap.String("identity", identity))
	fmt.Printf("Deleted %s\n", identity)
	return nil
}

// importResult tallies a directory import.
type importResult struct {
	mu        sync.Mutex
	enrolled  int
	duplicate []string
	noFace    []string
	failed    map[string]error
}

func (r *importResult) record(identity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		r.enrolled++
	case errors.Is(err, database.ErrDuplicateIdentity):
		r.duplicate = append(r.duplicate, identity)
	case errors.Is(err, errNoFaceInImage):
		r.noFace = append(r.noFace, identity)
	default:
		r.failed[identity] = err
	}
}

func runTemplatesImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && capture.IsImageFile(e.Name()) {
			files = append(files, filepath.Join(args[0], e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	ex := loadExtractor(ctx, cfg, logger)
	if !ex.Available() {
		return errors.New("face model is unavailable")
	}
	templates, err := database.GetTemplateWriter(ctx)
	if err != nil {
		return err
	}

	replace := mustGetBool(cmd, "replace")
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result := &importResult{failed: make(map[string]error)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, mustGetInt(cmd, "concurrency")))
	for _, path := range files {
		path := path
		g.Go(func() error {
			identity := identityFromPath(path)
			err := enrollFile(gctx, ex, templates, identity, path, replace)
			result.record(identity, err)
			if err != nil {
				logger.Debug("image skipped", zap.String("file", path), zap.Error(err))
			}
			bar.Add(1)
			return nil
		})
	}
	g.Wait()
	bar.Finish()

	fmt.Printf("\nEnrolled: %d\n", result.enrolled)
	if len(result.duplicate) > 0 {
		slices.Sort(result.duplicate)
		fmt.Printf("Already enrolled (use --replace): %s\n", strings.Join(result.duplicate, ", "))
	}
	if len(result.noFace) > 0 {
		slices.Sort(result.noFace)
		fmt.Printf("No face detected: %s\n", strings.Join(result.noFace, ", "))
	}
	for identity, err := range result.failed {
		fmt.Printf("Failed %s: %v\n", identity, err)
	}
	if len(result.failed) > 0 {
		return fmt.Errorf("%d images failed", len(result.failed))
	}
	return nil
}

func runTemplatesAudit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Face.AcceptThreshold
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	templates, err := database.GetTemplateReader(ctx)
	if err != nil {
		return err
	}
	gallery, err := templates.LoadGallery(ctx)
	if err != nil {
		return err
	}

	if !database.Uniform(gallery, cfg.Face.EmbeddingDim) {
		return fmt.Errorf("gallery mixes embedding dimensions, expected %d everywhere", cfg.Face.EmbeddingDim)
	}

	index := database.NewGalleryIndex()
	if err := index.Build(gallery); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	pairs, err := index.NearDuplicates(threshold, mustGetInt(cmd, "neighbors"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pairs)
	}

	fmt.Printf("Audited %d templates, threshold %.3f\n\n", index.Len(), threshold)
	if len(pairs) == 0 {
		fmt.Println("No conflicting identities found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY A\tIDENTITY B\tDISTANCE")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", p.A, p.B, p.Distance)
	}
	w.Flush()
	fmt.Printf("\n%d conflicting pairs\n", len(pairs))
	return nil
}

func runTemplatesNearest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if st.postgres == nil {
		return errors.New("templates nearest requires the postgres driver")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	ex := loadExtractor(ctx, cfg, logger)
	if !ex.Available() {
		return errors.New("face model is unavailable")
	}
	emb, err := ex.ExtractBytes(ctx, data)
	if err != nil {
		return err
	}
	if emb == nil {
		return errNoFaceInImage
	}

	neighbors, err := postgres.NewTemplateRepository(st.postgres).Nearest(ctx, *emb, mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tDISTANCE\tMATCH")
	for _, n := range neighbors {
		match := ""
		if n.Distance < cfg.Face.AcceptThreshold {
			match = "yes"
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", n.Identity, n.Distance, match)
	}
	return w.Flush()
}
