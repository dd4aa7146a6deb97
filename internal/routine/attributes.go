package routine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/parallel"
)

const attributeWorkers = 2

func UpdateFarmerAttributes(opts Options) Routine {
	return Routine{
		Name:          "Update_Farmer_Additional_Attribute",
		Description:   "Updates farmer additional attributes for the configured keys.",
		DefaultURL:    farmersURL,
		Label:         "Base Api Url",
		RequiresInput: true,
		Streams:       true,
		Columns:       []string{"farmer_id", "additional_attribute_1", "additional_attribute_2"},
		Run: func(ctx context.Context, in, out string, cfg Config, log LogFunc) error {
			return updateFarmerAttributes(ctx, opts, in, out, cfg, log)
		},
	}
}

// attrKey binds a configured attribute key to its spreadsheet column.
type attrKey struct {
	name string
	col  int
}

type attrResult struct {
	row      int
	status   string
	response string
}

func updateFarmerAttributes(ctx context.Context, opts Options, in, out string, cfg Config, log LogFunc) error {
	p := newProgress(ctx, log)
	token := cfg.String(KeyToken)
	if token == "" {
		_ = p.Say("No token provided in configuration.")
		return errNoToken
	}
	apiURL := cfg.URL(KeyPostAPIURL, "")
	if apiURL == "" {
		apiURL = farmersURL
		if err := p.Say("Using default Farmer API URL: %s", apiURL); err != nil {
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

	var keys []attrKey
	var names []string
	for i, k := range cfg.Strings(KeyAttrKeys) {
		if k == "" {
			continue
		}
		// columns are numbered by the key position, skipped keys included
		col := sheet.Col(fmt.Sprintf("additional_attribute_%d", i+1))
		if col < 0 {
			continue
		}
		keys = append(keys, attrKey{name: k, col: col})
		names = append(names, k)
	}
	if len(names) == 0 {
		if err := p.Say("No Attribute Keys configured! Please enter at least one key in the UI."); err != nil {
			return err
		}
	}

	idCol := sheet.Col("farmer_id", "farmerid", "id")
	if idCol < 0 {
		idCol = 0
		if err := p.Say("'farmer_id' column not found. Using first column."); err != nil {
			return err
		}
	}
	status := sheet.EnsureCol("Status")
	resp := sheet.EnsureCol("Response")

	rows := make([]int, sheet.Len())
	for i := range rows {
		rows[i] = i
	}
	if err := p.Say("Starting processing %d farmers with %d workers. Updating Keys: [%s]", len(rows), attributeWorkers, strings.Join(names, ", ")); err != nil {
		return err
	}

	client := opts.client(token)
	update := func(ctx context.Context, row int) (attrResult, error) {
		return updateAttributes(ctx, p, client, apiURL, sheet, idCol, keys, row)
	}
	var results []attrResult
	for r, err := range parallel.NewMap(ctx, attributeWorkers, update).Iter(parallel.Slice(rows)) {
		if err != nil {
			return err
		}
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.Say("Aggregating results..."); err != nil {
		return err
	}
	for _, r := range results {
		sheet.Set(r.row, status, r.status)
		sheet.Set(r.row, resp, r.response)
	}
	if err := sheet.Save(out); err != nil {
		return err
	}
	return p.Say("Output saved to: %s", out)
}

// updateAttributes handles one row. Only a stop request or a cancelled
// context are returned as an error; everything else lands in the result.
func updateAttributes(ctx context.Context, p progress, client *restClient, apiURL string, sheet *Sheet, idCol int, keys []attrKey, row int) (attrResult, error) {
	farmerID := sheet.Get(row, idCol)
	if farmerID == "" {
		return attrResult{row: row, status: "Skipped: Empty ID"}, p.Say("Skipping empty row %d", row+1)
	}
	if err := p.Say("Fetching: %s", farmerID); err != nil {
		return attrResult{}, err
	}

	failed := func(err error) (attrResult, error) {
		if ctx.Err() != nil {
			return attrResult{}, ctx.Err()
		}
		return attrResult{row: row, status: "Failed: " + err.Error(), response: err.Error()},
			p.Say("Failed: %s - %v", farmerID, err)
	}

	res, err := client.get(ctx, apiURL+"/"+url.PathEscape(farmerID))
	if err == nil && !res.OK(http.StatusOK) {
		err = fmt.Errorf("GET %d %s", res.Status, res.Reason())
	}
	if err != nil {
		return failed(err)
	}
	var farmer map[string]any
	if err := res.JSON(&farmer); err != nil {
		return failed(fmt.Errorf("decode farmer: %w", err))
	}
	data, ok := farmer["data"].(map[string]any)
	if !ok {
		return attrResult{row: row, status: "Failed: No valid data object"}, nil
	}
	if len(keys) == 0 {
		return attrResult{row: row, status: "Skipped: No changes"}, p.Say("No changes for %s", farmerID)
	}
	for _, k := range keys {
		data[k.name] = sheet.Get(row, k.col)
	}

	res, err = client.putMultipartJSON(ctx, apiURL, "dto", farmer)
	if err == nil && res.Status >= 400 {
		err = errors.New(strings.TrimSpace(fmt.Sprintf("PUT %d %s %s", res.Status, res.Reason(), truncate(res.Text(), 300))))
	}
	if err != nil {
		return failed(err)
	}
	return attrResult{row: row, status: "Success", response: truncate(res.Text(), 300)},
		p.Say("Success: %s", farmerID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
