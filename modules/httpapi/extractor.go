package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
)

const (
	dayLayout       = "2006-01-02"
	defaultMaxPages = 1000
	// maxErrorBody caps how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Extractor pages through one API endpoint per partition day. Every page is
// requested as GET {base_url}{endpoint}?date=YYYY-MM-DD&page=N with N
// starting at 1, and must return a JSON array of objects. An empty array
// ends the day.
//
// Parameters:
//
//	base_url   API root (required)
//	endpoint   path override, e.g. /v2/users
//	token      sent as a bearer token when set
//	max_pages  safety bound on pages per day (default 1000)
type Extractor struct {
	Client   *http.Client
	Endpoint string
}

// Extract implements collaborator.Extractor.
func (e *Extractor) Extract(ctx context.Context, req collaborator.ExtractRequest) (collaborator.Result, error) {
	logger := ctxlog.FromContext(ctx).With("endpoint", e.Endpoint, "source", req.Source)

	base, err := collaborator.RequireParam(req.Params, "base_url")
	if err != nil {
		return collaborator.Result{}, err
	}
	endpoint := collaborator.ParamOr(req.Params, "endpoint", e.Endpoint)
	target, err := url.Parse(strings.TrimRight(base, "/") + endpoint)
	if err != nil {
		return collaborator.Result{}, failure.Permanentf("invalid base_url %q: %v", base, err)
	}
	maxPages, err := collaborator.IntParam(req.Params, "max_pages", defaultMaxPages)
	if err != nil {
		return collaborator.Result{}, err
	}
	token := req.Params["token"]

	out, err := fsutil.CreateDataset(req.Destination)
	if err != nil {
		return collaborator.Result{}, err
	}
	defer out.Abort()

	for _, day := range req.Partition.Days() {
		date := day.Start().Format(dayLayout)
		for page := 1; ; page++ {
			if page > maxPages {
				return collaborator.Result{}, failure.Permanentf("day %s exceeded max_pages=%d", date, maxPages)
			}
			records, err := e.fetchPage(ctx, target, date, page, token)
			if err != nil {
				return collaborator.Result{}, err
			}
			logger.Debug("Fetched API page.", "date", date, "page", page, "records", len(records))
			if len(records) == 0 {
				break
			}
			for _, rec := range records {
				if err := out.Write(rec); err != nil {
					return collaborator.Result{}, err
				}
			}
		}
	}

	n, err := out.Commit()
	if err != nil {
		return collaborator.Result{}, err
	}
	logger.Info("Extracted partition from API.", "rows", n, "destination", req.Destination)
	return collaborator.Result{Rows: n}, nil
}

func (e *Extractor) fetchPage(ctx context.Context, target *url.URL, date string, page int, token string) ([]fsutil.Record, error) {
	u := *target
	q := u.Query()
	q.Set("date", date)
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.Permanentf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("GET %s: %s: %s", u.Redacted(), resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, failure.Transient(err)
		}
		return nil, failure.Permanent(err)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var records []fsutil.Record
	if err := dec.Decode(&records); err != nil {
		return nil, failure.Permanentf("GET %s: response is not a JSON array of objects: %v", u.Redacted(), err)
	}
	return records, nil
}
