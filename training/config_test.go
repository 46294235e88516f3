package training

import (
	"testing"
)

func validConfig() *Config {
	return &Config{
		Losses:    []LossKind{LossL1},
		Epochs:    10,
		EvalEvery: 1,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Expected valid base configuration, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero eval cadence", func(c *Config) { c.EvalEvery = 0 }},
		{"cross valid without cadence", func(c *Config) { c.CrossValid = true }},
		{"both loss gates set", func(c *Config) {
			c.OnlyAdversarialLoss = true
			c.OnlyFeaturesLoss = true
		}},
		{"adversarial without variants", func(c *Config) { c.Adversarial = true }},
		{"variants without adversarial", func(c *Config) {
			c.Discriminators = []DiscriminatorVariant{DiscMelGAN}
		}},
		{"single mode with two variants", func(c *Config) {
			c.Adversarial = true
			c.DiscriminatorMode = SingleDiscriminator
			c.Discriminators = []DiscriminatorVariant{DiscMSD, DiscMPD}
		}},
		{"single mode with separate optimizers", func(c *Config) {
			c.Adversarial = true
			c.DiscriminatorMode = SingleDiscriminator
			c.OptimizerMode = SeparateOptimizers
			c.Discriminators = []DiscriminatorVariant{DiscMelGAN}
		}},
		{"stft discriminator without spec representation", func(c *Config) {
			c.Adversarial = true
			c.DiscriminatorMode = MultipleDiscriminators
			c.OptimizerMode = JointOptimizer
			c.Discriminators = []DiscriminatorVariant{DiscSTFT}
		}},
		{"spec discriminator without any spectral input", func(c *Config) {
			c.Adversarial = true
			c.DiscriminatorMode = MultipleDiscriminators
			c.OptimizerMode = JointOptimizer
			c.Discriminators = []DiscriminatorVariant{DiscSpec}
		}},
		{"spectral loss without spec representation", func(c *Config) {
			c.Losses = []LossKind{LossSpectralL1}
		}},
		{"checkpoint without file", func(c *Config) { c.Checkpoint = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestConfigQueries(t *testing.T) {
	cfg := &Config{
		Losses:         []LossKind{LossL1, LossSTFT},
		Discriminators: []DiscriminatorVariant{DiscMelGAN},
	}
	if !cfg.HasLoss(LossSTFT) || cfg.HasLoss(LossMel) {
		t.Error("HasLoss gave a wrong answer")
	}
	if !cfg.HasDiscriminator(DiscMelGAN) || cfg.HasDiscriminator(DiscMBD) {
		t.Error("HasDiscriminator gave a wrong answer")
	}
}
