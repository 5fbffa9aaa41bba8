package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/visualindex"
	"github.com/hupe1980/visualindex/imageio"
)

func NewTrainCmd(cfg func() *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <dir>...",
		Short: "Train models from sample images",
		Long: `Learn VLAD codebooks, the PCA projection and the IVFPQ quantizers
from a representative sample of images and write them to --out.
With --write-config the model paths are stored in the given config file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: makeTrainRunner(cfg),
	}

	cmd.Flags().StringP("out", "o", "models", "Output directory")
	cmd.Flags().IntSlice("codebooks", []int{64}, "Centroids per VLAD codebook")
	cmd.Flags().Int("pca-dim", 0, "Feature vector length after PCA (0 disables PCA)")
	cmd.Flags().Bool("whiten", false, "Whiten the PCA projection")
	cmd.Flags().Int("cells", 16, "Coarse cells")
	cmd.Flags().Int("subvectors", 8, "Product quantizer subspaces")
	cmd.Flags().Int("centroids", 256, "Centroids per subspace")
	cmd.Flags().Int64("seed", 1, "Random seed")
	cmd.Flags().String("write-config", "", "Write a config using the trained models to this path")
	return cmd
}

func makeTrainRunner(cfg func() *Config) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		codebooks, _ := cmd.Flags().GetIntSlice("codebooks")
		pcaDim, _ := cmd.Flags().GetInt("pca-dim")
		whiten, _ := cmd.Flags().GetBool("whiten")
		cells, _ := cmd.Flags().GetInt("cells")
		subvectors, _ := cmd.Flags().GetInt("subvectors")
		centroids, _ := cmd.Flags().GetInt("centroids")
		seed, _ := cmd.Flags().GetInt64("seed")
		configOut, _ := cmd.Flags().GetString("write-config")

		c := cfg()
		images, err := loadTrainingImages(args, imageio.Options{MaxPixels: c.Pipeline.MaxPixels, MaxSourcePixels: c.Pipeline.MaxSourcePixels})
		if err != nil {
			return err
		}

		models, err := visualindex.TrainModels(cmd.Context(), images, visualindex.TrainConfig{
			Codebooks:    codebooks,
			PCADimension: pcaDim,
			Whitening:    whiten,
			Cells:        cells,
			Subvectors:   subvectors,
			Centroids:    centroids,
			Seed:         seed,
		})
		if err != nil {
			return fmt.Errorf("train: %w", err)
		}

		files, err := models.Save(out)
		if err != nil {
			return fmt.Errorf("save models: %w", err)
		}

		c.Models = ModelsConfig{
			Codebooks: files.Codebooks,
			PCA:       files.PCA,
			Whitening: whiten,
			Coarse:    files.Coarse,
			PQ:        files.PQ,
		}
		if configOut != "" {
			if err := SaveConfig(configOut, c); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "trained models on %d images\n", len(images))
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(map[string]ModelsConfig{"models": c.Models})
	}
}

func loadTrainingImages(args []string, opts imageio.Options) ([]*imageio.Image, error) {
	var images []*imageio.Image
	for _, arg := range args {
		files, err := imageFiles(arg)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			img, _, err := imageio.Decode(data, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			images = append(images, img)
		}
	}
	return images, nil
}
