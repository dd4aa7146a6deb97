package routine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
)

const croppableAreasURL = "https://cloud.cropin.in/services/farm/api/croppable-areas"

func AreaAuditRemoval(opts Options) Routine {
	return Routine{
		Name:          "Area_Audit_Removal",
		Description:   "Removes area audits of croppable areas.",
		DefaultURL:    croppableAreasURL,
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"ca_id"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return areaAuditRemoval(ctx, opts, in, out, cfg, log)
		},
	}
}

func areaAuditRemoval(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	token := cfg.String(KeyToken)
	if token == "" {
		_ = p.Say("No token provided in configuration.")
		return errNoToken
	}
	baseURL := cfg.URL(KeyPostAPIURL, "")
	if baseURL == "" {
		baseURL = croppableAreasURL
		if err := p.Say("Using default Base URL: %s", baseURL); err != nil {
			return err
		}
	}

	if err := p.Say("Loading input file: %s", in); err != nil {
		return err
	}
	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Error reading Excel file: %v", err)
		return err
	}
	caCol := sheet.Col("ca_id")
	status := sheet.EnsureCol("Status")
	resp := sheet.EnsureCol("Response")
	if err := p.Say("Processing %d rows...", sheet.Len()); err != nil {
		return err
	}

	client := opts.client(token)
	var ok, failed int
	for i := range sheet.Len() {
		caID := sheet.Get(i, caCol)
		if caID == "" {
			continue
		}
		if err := p.Say("Processing %s...", caID); err != nil {
			return err
		}

		res, err := client.delete(ctx, fmt.Sprintf("%s/%s/area-audit", baseURL, url.PathEscape(caID)))
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			sheet.Set(i, status, "Error")
			sheet.Set(i, resp, err.Error())
			err = p.Say("Error %s: %v", caID, err)
		case res.OK(http.StatusOK):
			ok++
			sheet.Set(i, status, "Success")
			sheet.Set(i, resp, "200 OK")
			err = p.Say("%s: Success", caID)
		default:
			failed++
			sheet.Set(i, status, fmt.Sprintf("Failed: %d", res.Status))
			sheet.Set(i, resp, res.Text())
			err = p.Say("%s: Failed (%d)", caID, res.Status)
		}
		if err != nil {
			return err
		}
	}

	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("Completed. Success: %d, Failures: %d. Saved to %s", ok, failed, out)
}

func PlotRiskEnablement(opts Options) Routine {
	return Routine{
		Name:          "PR_Enablement",
		Description:   "Enables plot risk for croppable areas.",
		DefaultURL:    croppableAreasURL,
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"croppable_area_id", "farmer_id"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return plotRiskEnablement(ctx, opts, in, out, cfg, log)
		},
	}
}

type plotRiskResult struct {
	SRPlotDetails map[string]struct {
		SRPlotID any    `json:"srPlotId"`
		Status   string `json:"status"`
		Message  string `json:"message"`
	} `json:"srPlotDetails"`
}

// srPlotID returns the first srPlotId of a plot risk response, "N/A" when
// there is none. Keys are visited in sorted order.
func (r plotRiskResult) srPlotID() string {
	keys := make([]string, 0, len(r.SRPlotDetails))
	for k := range r.SRPlotDetails {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if id := r.SRPlotDetails[k].SRPlotID; id != nil {
			return fmt.Sprint(id)
		}
	}
	return "N/A"
}

func plotRiskEnablement(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	token := cfg.String(KeyToken)
	if token == "" {
		_ = p.Say("Failed to retrieve access token. Process terminated.")
		return errNoToken
	}
	baseURL := cfg.URL(KeyPostAPIURL, "")
	if baseURL == "" {
		baseURL = croppableAreasURL
		if err := p.Say("No API URL provided, using default base: %s", baseURL); err != nil {
			return err
		}
	}
	plotRiskURL := baseURL + "/plot-risk/batch"
	useFarmer := cfg.Flag(KeyUseFarmerID)

	if err := p.Say("Reading Excel file..."); err != nil {
		return err
	}
	sheet, err := ReadSheet(in)
	if err != nil {
		_ = p.Say("Error reading Excel file: %v", err)
		return err
	}
	caCol := sheet.ColOr(0, "croppable_area_id")
	farmerCol := sheet.Col("farmer_id")
	status := sheet.EnsureCol("status")
	failedIn := sheet.EnsureCol("Failed in Response")
	srPlot := sheet.EnsureCol("srPlotid")
	prResp := sheet.EnsureCol("Plot_risk_response")

	client := opts.client(token)
	for i := range sheet.Len() {
		caID := sheet.Get(i, caCol)
		if caID == "" {
			if err := p.Say("Skipping empty row %d", i+1); err != nil {
				return err
			}
			continue
		}
		var farmerID any
		farmerLabel := "None"
		if useFarmer {
			if v := sheet.Get(i, farmerCol); v != "" {
				farmerID, farmerLabel = v, v
			}
		}
		if err := p.Say("Processing row %d: CroppableAreaId = %s, FarmerId = %s", i+1, caID, farmerLabel); err != nil {
			return err
		}
		if err := p.Say("Sending Plot Risk API request for CroppableAreaId: %s", caID); err != nil {
			return err
		}

		payload := []map[string]any{{"croppableAreaId": caID, "farmerId": farmerID}}
		res, err := client.sendJSON(ctx, http.MethodPost, plotRiskURL, payload)
		if err == nil && res.Status >= 400 {
			err = fmt.Errorf("%d %s: %s", res.Status, res.Reason(), res.Text())
		}
		var result plotRiskResult
		if err == nil {
			if jerr := res.JSON(&result); jerr != nil {
				err = fmt.Errorf("decode response: %w", jerr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sheet.Set(i, prResp, err.Error())
			sheet.Set(i, srPlot, "N/A")
			sheet.Set(i, status, "Failed")
			if err := p.Say("Plot Risk API request failed: %v", err); err != nil {
				return err
			}
			continue
		}

		compact, _ := json.Marshal(json.RawMessage(res.Body))
		sheet.Set(i, prResp, string(compact))
		sheet.Set(i, srPlot, result.srPlotID())
		sheet.Set(i, status, "Success")
		if err := p.Say("Extracted srPlotId: %s", result.srPlotID()); err != nil {
			return err
		}

		sheet.Set(i, failedIn, "Success")
		for key, d := range result.SRPlotDetails {
			if d.Status != "FAILED" {
				continue
			}
			msg := d.Message
			if msg == "" {
				msg = "No message provided"
			}
			sheet.Set(i, failedIn, "Failed: "+msg)
			if err := p.Say("Status for %s: %s - %s", key, d.Status, msg); err != nil {
				return err
			}
		}
	}

	if err := p.Say("Processing completed. Saving output file..."); err != nil {
		return err
	}
	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("File saved successfully.")
}
