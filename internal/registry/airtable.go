package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawlgate/internal/clock"
	"github.com/JakeFAU/crawlgate/internal/metrics"
)

const (
	defaultAirtableURL = "https://api.airtable.com"
	defaultKeyField    = "API Key"
	defaultTimeout     = 3 * time.Second
	maxResponseBytes   = 1 << 20
	limiterKey         = "registry"
)

var formulaEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// AirtableConfig configures the Airtable-backed registry client.
type AirtableConfig struct {
	BaseURL string
	Token   string
	BaseID  string
	Table   string
	// KeyField is the column holding the key string.
	KeyField string
	// ActiveField, when set, names a column that must be truthy for the key to be valid.
	// Airtable omits unchecked checkboxes, so a missing field counts as revoked.
	ActiveField string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Limiter     Waiter
	Clock       clock.Clock
}

// Airtable looks keys up in an Airtable table via its REST API.
type Airtable struct {
	cfg      AirtableConfig
	client   *http.Client
	endpoint string
}

// NewAirtable validates cfg and builds a client.
func NewAirtable(cfg AirtableConfig) (*Airtable, error) {
	if cfg.Token == "" || cfg.BaseID == "" || cfg.Table == "" {
		return nil, errors.New("airtable token, base id and table are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAirtableURL
	}
	if cfg.KeyField == "" {
		cfg.KeyField = defaultKeyField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") +
		"/v0/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.Table)
	return &Airtable{cfg: cfg, client: client, endpoint: endpoint}, nil
}

type airtableList struct {
	Records *[]airtableRecord `json:"records"`
}

type airtableRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Lookup fetches at most one record whose key field equals key.
func (a *Airtable) Lookup(ctx context.Context, key string) (Record, error) {
	start := time.Now()
	rec, err := a.lookup(ctx, key)
	metrics.ObserveRegistryLookup(outcomeOf(rec, err), time.Since(start))
	return rec, err
}

func (a *Airtable) lookup(ctx context.Context, key string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx, limiterKey); err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.lookupURL(key), nil)
	if err != nil {
		return Record{}, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Record{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var list airtableList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&list); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Record{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if list.Records == nil {
		return Record{}, fmt.Errorf("%w: missing records", ErrMalformed)
	}

	return Record{
		Key:       key,
		Valid:     a.matches(*list.Records, key),
		CheckedAt: a.cfg.Clock.Now(),
	}, nil
}

func (a *Airtable) lookupURL(key string) string {
	q := url.Values{}
	q.Set("filterByFormula", fmt.Sprintf("{%s}='%s'", a.cfg.KeyField, formulaEscaper.Replace(key)))
	q.Set("maxRecords", "1")
	q.Add("fields[]", a.cfg.KeyField)
	if a.cfg.ActiveField != "" {
		q.Add("fields[]", a.cfg.ActiveField)
	}
	return a.endpoint + "?" + q.Encode()
}

// matches re-checks the returned rows so validity never depends on formula semantics alone.
func (a *Airtable) matches(records []airtableRecord, key string) bool {
	for _, r := range records {
		stored, ok := r.Fields[a.cfg.KeyField].(string)
		if !ok || stored != key {
			continue
		}
		if a.cfg.ActiveField == "" {
			return true
		}
		return truthy(r.Fields[a.cfg.ActiveField])
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "active", "enabled", "yes", "y":
			return true
		}
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}
