package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// UpstreamModels fixes the upstream model and parameters used for each relay branch.
// Requests never override these values.
type UpstreamModels struct {
	TextGeneration      TextGenerationPreset      `toml:"text_generation"`
	ImageClassification ImageClassificationPreset `toml:"image_classification"`
	Summarization       SummarizationPreset       `toml:"summarization"`
}

// TextGenerationPreset configures the text-generation branch.
type TextGenerationPreset struct {
	Model       string  `toml:"model"`
	MaxLength   int     `toml:"max_length"`
	Temperature float64 `toml:"temperature"`
}

// ImageClassificationPreset configures the image-classification branch.
type ImageClassificationPreset struct {
	Model string `toml:"model"`
}

// SummarizationPreset configures the summarization branch.
type SummarizationPreset struct {
	Model     string `toml:"model"`
	MaxLength int    `toml:"max_length"`
	MinLength int    `toml:"min_length"`
}

// DefaultUpstreamModels returns the built-in presets.
func DefaultUpstreamModels() UpstreamModels {
	return UpstreamModels{
		TextGeneration: TextGenerationPreset{
			Model:       "gpt2",
			MaxLength:   100,
			Temperature: 0.7,
		},
		ImageClassification: ImageClassificationPreset{
			Model: "google/vit-base-patch16-224",
		},
		Summarization: SummarizationPreset{
			Model:     "facebook/bart-large-cnn",
			MaxLength: 130,
			MinLength: 30,
		},
	}
}

// LoadUpstreamModels returns the default presets overlaid with the TOML file at path.
// Keys absent from the file keep their defaults. An empty path returns the defaults.
func LoadUpstreamModels(path string) (UpstreamModels, error) {
	models := DefaultUpstreamModels()
	if path == "" {
		return models, nil
	}

	md, err := toml.DecodeFile(path, &models)
	if err != nil {
		return UpstreamModels{}, fmt.Errorf("failed to decode models file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return UpstreamModels{}, fmt.Errorf("unknown keys in models file: %v", undecoded)
	}

	if err := models.validate(); err != nil {
		return UpstreamModels{}, err
	}
	return models, nil
}

func (m UpstreamModels) validate() error {
	if m.TextGeneration.Model == "" {
		return fmt.Errorf("text_generation.model must not be empty")
	}
	if m.ImageClassification.Model == "" {
		return fmt.Errorf("image_classification.model must not be empty")
	}
	if m.Summarization.Model == "" {
		return fmt.Errorf("summarization.model must not be empty")
	}
	if m.Summarization.MinLength > m.Summarization.MaxLength {
		return fmt.Errorf("summarization.min_length %d exceeds max_length %d", m.Summarization.MinLength, m.Summarization.MaxLength)
	}
	return nil
}
