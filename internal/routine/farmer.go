package routine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	farmersURL  = "https://cloud.cropin.in/services/farm/api/farmers"
	bulkDelSize = 100
)

func UpdateFarmerName(opts Options) Routine {
	return Routine{
		Name:          "UpdateFarmerName",
		Description:   "Updates farmer first names by farmer id.",
		DefaultURL:    farmersURL,
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"farmer_id", "first_name"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return updateFarmerName(ctx, opts, in, out, cfg, log)
		},
	}
}

func updateFarmerName(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	baseURL := cfg.URL(KeyPostAPIURL, farmersURL)

	if err := p.Say("Reading Excel file..."); err != nil {
		return err
	}
	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Error reading Excel file: %v", err)
		return err
	}
	idCol, nameCol := sheet.Col("farmer_id"), sheet.Col("first_name")
	if idCol < 0 || nameCol < 0 {
		_ = p.Say("Error: Excel must contain 'farmer_id' and 'first_name' columns.")
		return errors.New("missing 'farmer_id' or 'first_name' column")
	}
	status := sheet.EnsureCol("status")
	resp := sheet.EnsureCol("response")
	client := opts.client(cfg.String(KeyToken))

	for i := range sheet.Len() {
		farmerID, newName := sheet.Get(i, idCol), sheet.Get(i, nameCol)
		if err := p.Say("Iteration %d: Processing Farmer ID: %s", i+1, farmerID); err != nil {
			return err
		}

		res, err := client.get(ctx, baseURL+"/"+url.PathEscape(farmerID))
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		var farmer map[string]any
		switch {
		case err != nil:
			sheet.Set(i, status, "GET Failed")
			sheet.Set(i, resp, err.Error())
			if err := p.Say("Exception during GET: %v", err); err != nil {
				return err
			}
			continue
		case !res.OK(http.StatusOK) || res.JSON(&farmer) != nil || farmer == nil:
			sheet.Set(i, status, "GET Failed")
			if err := p.Say("Failed to fetch details for Farmer ID: %s. Status Code: %d", farmerID, res.Status); err != nil {
				return err
			}
			continue
		}

		current, _ := farmer["firstName"].(string)
		if current == newName {
			sheet.Set(i, status, "No Update Needed")
			sheet.Set(i, resp, "N/A")
			if err := p.Say("No update needed for Farmer ID: %s", farmerID); err != nil {
				return err
			}
			continue
		}

		farmer["firstName"] = newName
		res, err = client.sendJSON(ctx, http.MethodPut, baseURL, farmer)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sheet.Set(i, status, "PUT Failed")
			sheet.Set(i, resp, err.Error())
			err = p.Say("Exception during PUT: %v", err)
		case res.OK(http.StatusOK, http.StatusNoContent):
			sheet.Set(i, status, "Updated")
			sheet.Set(i, resp, res.Text())
			err = p.Say("Successfully updated Farmer ID: %s", farmerID)
		default:
			sheet.Set(i, status, "PUT Failed")
			sheet.Set(i, resp, res.Text())
			err = p.Say("Failed to update Farmer ID: %s. Status Code: %d | Resp: %s", farmerID, res.Status, res.Text())
		}
		if err != nil {
			return err
		}
	}

	if err := p.Say("Saving updated Excel file..."); err != nil {
		return err
	}
	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("Processing completed!")
}

func BulkDeleteFarmers(opts Options) Routine {
	return Routine{
		Name:          "Bulk_Delete_Farmers",
		Description:   "Deletes farmers in batches of 100 ids.",
		DefaultURL:    farmersURL + "/bulk",
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"farmer_id"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return bulkDeleteFarmers(ctx, opts, in, out, cfg, log)
		},
	}
}

func bulkDeleteFarmers(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	token := cfg.String(KeyToken)
	if token == "" {
		_ = p.Say("No token provided in configuration.")
		return errNoToken
	}
	apiURL := cfg.URL(KeyPostAPIURL, "")
	if apiURL == "" {
		apiURL = farmersURL + "/bulk"
		if err := p.Say("Using default API URL: %s", apiURL); err != nil {
			return err
		}
	}

	if err := p.Say("Loading Excel file: %s", in); err != nil {
		return err
	}
	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Error reading Excel file: %v", err)
		return err
	}
	idCol := sheet.Col("farmer_id")
	if idCol < 0 {
		_ = p.Say("Excel must contain 'farmer_id' column")
		return errors.New("missing 'farmer_id' column")
	}
	status := sheet.EnsureCol("Status")
	processed := sheet.EnsureCol("Processed_IDs")
	apiResp := sheet.EnsureCol("API_Response")

	var rows []int
	var ids []string
	for i := range sheet.Len() {
		if id := sheet.Get(i, idCol); id != "" {
			rows = append(rows, i)
			ids = append(ids, id)
		}
	}
	if err := p.Say("Total Farmers to Delete: %d", len(ids)); err != nil {
		return err
	}

	client := opts.client(token)
	for start := 0; start < len(ids); start += bulkDelSize {
		end := min(start+bulkDelSize, len(ids))
		batch := start/bulkDelSize + 1
		param := strings.Join(ids[start:end], ",")
		if err := p.Say("Deleting batch %d", batch); err != nil {
			return err
		}

		var state, text string
		res, err := client.delete(ctx, apiURL+"?"+url.Values{"ids": {param}}.Encode())
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			state, text = "Error", err.Error()
			err = p.Say("Exception occurred in batch %d: %v", batch, err)
		case res.OK(http.StatusOK, http.StatusNoContent):
			state, text = "Deleted", res.Text()
			err = p.Say("Batch %d deleted successfully", batch)
		default:
			state, text = fmt.Sprintf("Failed (%d)", res.Status), res.Text()
			err = p.Say("Batch %d delete failed: %d", batch, res.Status)
		}

		for _, row := range rows[start:end] {
			sheet.Set(row, status, state)
		}
		sheet.Set(rows[start], processed, param)
		sheet.Set(rows[start], apiResp, text)
		if serr := sheet.Save(out); serr != nil {
			return serr
		}
		if err != nil {
			return err
		}
	}

	if len(ids) == 0 {
		if err := sheet.Save(out); err != nil {
			return err
		}
	}
	return p.Say("Process completed. Output saved to: %s", out)
}
