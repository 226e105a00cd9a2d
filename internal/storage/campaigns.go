package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dealmungchi/snipedeal/internal/model"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

const (
	defaultPageLimit       = 1
	defaultIntervalMinutes = 2
)

type campaignEntry struct {
	ID              int64    `yaml:"id"`
	Keyword         string   `yaml:"keyword"`
	MinPrice        *float64 `yaml:"min_price"`
	MaxPrice        *float64 `yaml:"max_price"`
	PageLimit       int      `yaml:"page_limit"`
	IntervalMinutes float64  `yaml:"interval_minutes"`
	Active          *bool    `yaml:"active"`
}

type campaignFile struct {
	Campaigns []campaignEntry `yaml:"campaigns"`
}

var validate = validator.New()

// LoadCampaigns reads campaign definitions from a YAML file.
// page_limit defaults to 1, interval_minutes to 2 and active to true.
func LoadCampaigns(path string) ([]model.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfiguration("read campaigns file", err)
	}
	return ParseCampaigns(data)
}

// ParseCampaigns decodes and validates a campaigns document
func ParseCampaigns(data []byte) ([]model.Campaign, error) {
	var doc campaignFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewConfiguration("parse campaigns file", err)
	}

	seen := make(map[int64]struct{}, len(doc.Campaigns))
	out := make([]model.Campaign, 0, len(doc.Campaigns))
	for i, e := range doc.Campaigns {
		c := e.toCampaign()
		if err := validate.Struct(c); err != nil {
			return nil, apperrors.NewValidation("storage", fmt.Sprintf("campaign #%d", i+1), err)
		}
		if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
			return nil, apperrors.NewValidation("storage", fmt.Sprintf("campaign %d: min_price above max_price", c.ID), nil)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, apperrors.NewValidation("storage", fmt.Sprintf("campaign %d defined twice", c.ID), nil)
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (e campaignEntry) toCampaign() model.Campaign {
	c := model.Campaign{
		ID:        e.ID,
		Keyword:   e.Keyword,
		MinPrice:  e.MinPrice,
		MaxPrice:  e.MaxPrice,
		PageLimit: e.PageLimit,
		Interval:  time.Duration(e.IntervalMinutes * float64(time.Minute)),
		Active:    true,
	}
	if c.PageLimit == 0 {
		c.PageLimit = defaultPageLimit
	}
	if e.IntervalMinutes == 0 {
		c.Interval = defaultIntervalMinutes * time.Minute
	}
	if e.Active != nil {
		c.Active = *e.Active
	}
	return c
}
