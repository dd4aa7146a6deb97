package routine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var errNoToken = errors.New("no token provided in configuration")

func AddTags(opts Options) Routine {
	return Routine{
		Name:          "AddTagsWithNewAPI",
		Description:   "Adds tags in bulk using the Master API.",
		DefaultURL:    "https://cloud.cropin.in/services/master/api/tags",
		Label:         "Post Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"name", "tagType", "validFrom", "validTill", "description"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return addTags(ctx, opts, in, out, cfg, log)
		},
	}
}

func addTags(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	apiURL := cfg.URL(KeyPostAPIURL, "")
	if apiURL == "" {
		return fmt.Errorf("configuration %q is missing", KeyPostAPIURL)
	}
	token := cfg.String(KeyToken)
	if token == "" {
		if err := p.Say("Warning: No token found in config. Authentication might have failed or not run."); err != nil {
			return err
		}
	}
	if err := p.Say("Starting execution with API: %s", apiURL); err != nil {
		return err
	}

	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Failed to read input Excel file: %v", err)
		return err
	}
	enough := sheet.Width() >= 5
	status := sheet.EnsureCol("Status")
	resp := sheet.EnsureCol("Response")
	client := opts.client(token)

	for i := range sheet.Len() {
		if err := p.Say("Processing iteration %d...", i+1); err != nil {
			return err
		}
		if !enough {
			sheet.Set(i, status, "Error")
			sheet.Set(i, resp, "Row does not have enough columns")
			continue
		}
		name := sheet.Get(i, 0)
		payload := map[string]any{
			"name":        name,
			"tagType":     sheet.Get(i, 1),
			"validFrom":   sheet.Get(i, 2),
			"validTill":   sheet.Get(i, 3),
			"description": sheet.Get(i, 4),
			"status":      "Active",
		}
		if err := p.Say("Adding Tag %s to the API ...", name); err != nil {
			return err
		}
		res, err := client.sendJSON(ctx, http.MethodPost, apiURL, payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sheet.Set(i, status, "Error")
			sheet.Set(i, resp, err.Error())
			if err := p.Say("Error processing %s: %v", name, err); err != nil {
				return err
			}
		case res.OK(http.StatusCreated):
			sheet.Set(i, status, "Success")
			sheet.Set(i, resp, fmt.Sprintf("Code: %d, Message: %s", res.Status, res.Text()))
			if err := p.Say("Added Tag %s successfully to the API ...", name); err != nil {
				return err
			}
		default:
			sheet.Set(i, status, fmt.Sprintf("Failed: %d", res.Status))
			sheet.Set(i, resp, fmt.Sprintf("Reason: %s, Message: %s", res.Reason(), res.Text()))
			if err := p.Say("Failed to add Tag %s: %d", name, res.Status); err != nil {
				return err
			}
		}
	}

	if err := p.Say("Saving updated sheet to a new Excel file..."); err != nil {
		return err
	}
	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("File saved successfully.")
}
