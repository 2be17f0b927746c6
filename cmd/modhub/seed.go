package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vnmodhub/modhub/internal/domain"
	"github.com/vnmodhub/modhub/internal/mail"
	"github.com/vnmodhub/modhub/internal/services"
)

// achievementSeed is one entry of a seed file.
type achievementSeed struct {
	Name             string `mapstructure:"name"`
	Description      string `mapstructure:"description"`
	Category         string `mapstructure:"category"`
	Icon             string `mapstructure:"icon"`
	Points           int    `mapstructure:"points"`
	RequirementType  string `mapstructure:"requirement_type"`
	RequirementValue int64  `mapstructure:"requirement_value"`
	Hidden           bool   `mapstructure:"hidden"`
}

var knownMetrics = map[string]bool{
	domain.MetricModUpload:      true,
	domain.MetricTotalDownloads: true,
	domain.MetricCommentCount:   true,
}

var seedCmd = &cobra.Command{
	Use:   "seed-achievements <file>",
	Short: "Create or update achievement definitions from a YAML or JSON file",
	Long: `Reads a list under the "achievements" key and upserts each entry by name.
Example:

  achievements:
    - name: First Upload
      points: 10
      requirement_type: mod_upload
      requirement_value: 1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := readAchievementSeed(args[0])
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)

		svc := services.NewAchievementService(db, nil, mail.Composer{}, log)
		for i := range list {
			if err := svc.Upsert(cmd.Context(), &list[i]); err != nil {
				return fmt.Errorf("upsert %q: %w", list[i].Name, err)
			}
		}
		log.Info().Int("count", len(list)).Str("file", args[0]).Msg("achievements seeded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// readAchievementSeed parses and validates a seed file. The format follows
// the file extension.
func readAchievementSeed(path string) ([]domain.Achievement, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []achievementSeed
	if err := v.UnmarshalKey("achievements", &seeds); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	if len(seeds) == 0 {
		return nil, errors.New("seed file has no achievements")
	}

	seen := make(map[string]bool, len(seeds))
	out := make([]domain.Achievement, 0, len(seeds))
	for i, s := range seeds {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("achievement #%d: name is required", i+1)
		case seen[name]:
			return nil, fmt.Errorf("achievement %q listed twice", name)
		case !knownMetrics[s.RequirementType]:
			return nil, fmt.Errorf("achievement %q: unknown requirement_type %q", name, s.RequirementType)
		case s.RequirementValue < 1:
			return nil, fmt.Errorf("achievement %q: requirement_value must be >= 1", name)
		case s.Points < 0:
			return nil, fmt.Errorf("achievement %q: points must be >= 0", name)
		}
		seen[name] = true
		category := s.Category
		if category == "" {
			category = "general"
		}
		out = append(out, domain.Achievement{
			Name:             name,
			Description:      s.Description,
			Category:         category,
			Icon:             s.Icon,
			Points:           s.Points,
			RequirementType:  s.RequirementType,
			RequirementValue: s.RequirementValue,
			IsHidden:         s.Hidden,
		})
	}
	return out, nil
}
