package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <image>",
	Short: "Enroll a face template from an image",
	Long: `Extract the face embedding from an image and store it as the template
for an identity. The identity is normalized the same way login usernames are.

Enrolling an identity that already has a template fails unless --replace is
given.

Examples:
  faceauth enroll alice ./alice.jpg
  faceauth enroll alice ./alice-new.jpg --replace`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("replace", false, "Replace an existing template")
}

// errNoFaceInImage is returned when enrollment finds no usable face.
var errNoFaceInImage = errors.New("no face detected")

// enrollFile extracts a template from path and saves it for identity.
func enrollFile(ctx context.Context, ex *fingerprint.Extractor, templates database.TemplateWriter, identity, path string, replace bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	emb, err := ex.ExtractBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", path, err)
	}
	if emb == nil {
		return fmt.Errorf("%s: %w", path, errNoFaceInImage)
	}
	if replace {
		return templates.ReplaceTemplate(ctx, identity, *emb)
	}
	return templates.SaveTemplate(ctx, identity, *emb)
}

// identityFromPath derives an identity from a file name stem.
func identityFromPath(path string) string {
	base := filepath.Base(path)
	return facematch.NormalizeIdentity(strings.TrimSuffix(base, filepath.Ext(base)))
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	identity := facematch.NormalizeIdentity(args[0])
	if identity == "" {
		return errors.New("identity must not be empty")
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

	if err := enrollFile(ctx, ex, templates, identity, args[1], mustGetBool(cmd, "replace")); err != nil {
		if errors.Is(err, database.ErrDuplicateIdentity) {
			return fmt.Errorf("%s already has a template, use --replace to overwrite", identity)
		}
		return err
	}

	logger.Info("template enrolled", zap.String("identity", identity), zap.String("source", args[1]))
	fmt.Printf("Enrolled %s\n", identity)
	return nil
}
