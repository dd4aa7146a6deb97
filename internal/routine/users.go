package routine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const usersURL = "https://cloud.cropin.in/services/user/api/users"

// EnableOrDisableUser does not stream; its progress only reaches the
// process log.
func EnableOrDisableUser(opts Options) Routine {
	return Routine{
		Name:          "Enable_Or_Disable_User",
		Description:   "Enables or disables users by id.",
		DefaultURL:    usersURL,
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       false,
		Columns:       []string{"user_id", "enableFlag"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return enableOrDisableUser(ctx, opts, in, out, cfg, log)
		},
	}
}

func enableOrDisableUser(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	baseURL := cfg.URL(KeyPostAPIURL, "")
	if baseURL == "" {
		baseURL = usersURL
		if err := p.Say("API URL not provided. Using default: %s", baseURL); err != nil {
			return err
		}
	}

	if err := p.Say("Reading Excel file..."); err != nil {
		return err
	}
	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Error reading input file: %v", err)
		return err
	}
	userCol, flagCol := sheet.Col("user_id"), sheet.Col("enableFlag")
	status := sheet.EnsureCol("Status")
	resp := sheet.EnsureCol("Response")
	total := sheet.Len()
	if err := p.Say("Processing %d rows...", total); err != nil {
		return err
	}

	client := opts.client(cfg.String(KeyToken))
	for i := range total {
		rawID, flag := sheet.Get(i, userCol), strings.ToLower(sheet.Get(i, flagCol))
		if rawID == "" || flag == "" {
			sheet.Set(i, status, "Skipped: Missing Data")
			continue
		}
		if flag != "true" && flag != "false" {
			sheet.Set(i, status, "Invalid enableFlag")
			continue
		}
		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			sheet.Set(i, status, "Invalid User ID")
			continue
		}
		if err := p.Say("Processing row %d/%d | UserID: %d | enableFlag: %s", i+1, total, userID, flag); err != nil {
			return err
		}

		res, err := client.sendJSON(ctx, http.MethodPut, fmt.Sprintf("%s/enable/%d?enableFlag=%s", baseURL, userID, flag), nil)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sheet.Set(i, status, "Error")
			sheet.Set(i, resp, err.Error())
			err = p.Say("Exception for User %d: %v", userID, err)
		case res.OK(http.StatusOK, http.StatusNoContent):
			text := res.Text()
			if text == "" {
				text = "Success"
			}
			sheet.Set(i, status, "Success")
			sheet.Set(i, resp, text)
			err = p.Say("User %d updated successfully", userID)
		default:
			sheet.Set(i, status, fmt.Sprintf("Failed: %d", res.Status))
			sheet.Set(i, resp, res.Text())
			err = p.Say("Failed for User %d: %d | %s", userID, res.Status, res.Text())
		}
		if err != nil {
			return err
		}
	}

	if err := p.Say("Saving output Excel..."); err != nil {
		return err
	}
	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("File saved: %s", out)
}
