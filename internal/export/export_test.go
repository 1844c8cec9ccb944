package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/internal/crawler"
	"github.com/adriejeon/featureDetective/pkg/types"
)

func sampleResult() *crawler.Result {
	return &crawler.Result{
		Pages: []types.PageResult{
			{
				URL:              "https://example.com/",
				Title:            "Home",
				Content:          "Welcome to the product documentation.",
				ContentLength:    37,
				ExtractionMethod: types.ExtractionMainContent,
				Depth:            0,
				Source:           types.SourceSeed,
				Status:           types.StatusCompleted,
				Metadata: types.PageMetadata{
					Headings: []string{"Home"},
					Links:    []string{"https://example.com/features?tab=1&view=all"},
				},
				FetchedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
			},
			{
				URL:              "https://example.com/broken",
				ExtractionMethod: types.ExtractionFailed,
				Depth:            1,
				Source:           types.SourceLink,
				Status:           types.StatusFailed,
				Metadata:         types.PageMetadata{Error: "permanent fetch failure: status 404"},
			},
		},
		Stats: types.CrawlStats{
			State:          types.StateCompleted,
			PagesAttempted: 2,
			PagesSucceeded: 1,
			PagesFailed:    1,
		},
	}
}

func TestJSON(t *testing.T) {
	cfg := config.Default().Crawl
	cfg.SeedURL = "https://example.com/"

	var buf bytes.Buffer
	if err := JSON(&buf, sampleResult(), cfg); err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var doc struct {
		CrawlResults []types.PageResult `json:"crawl_results"`
		Stats        types.CrawlStats   `json:"stats"`
		Config       config.CrawlConfig `json:"config"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(doc.CrawlResults) != 2 {
		t.Fatalf("exported %d results, want 2", len(doc.CrawlResults))
	}
	if doc.CrawlResults[0].URL != "https://example.com/" {
		t.Errorf("first url = %q", doc.CrawlResults[0].URL)
	}
	if doc.CrawlResults[1].Status != types.StatusFailed {
		t.Errorf("second status = %q, want failed", doc.CrawlResults[1].Status)
	}
	if doc.Stats.State != types.StateCompleted {
		t.Errorf("stats state = %q, want completed", doc.Stats.State)
	}
	if doc.Config.SeedURL != "https://example.com/" {
		t.Errorf("config seed = %q", doc.Config.SeedURL)
	}
	// URLs must come through unescaped.
	if !bytes.Contains(buf.Bytes(), []byte(`&view=all`)) {
		t.Error("export escaped the & in a link url")
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := CSV(&buf, sampleResult().Pages); err != nil {
		t.Fatalf("CSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("csv has %d rows, want header + 2", len(records))
	}
	wantHeader := []string{"title", "url", "depth", "source", "content_length", "status"}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Fatalf("header = %v, want %v", records[0], wantHeader)
	}
	wantRow := []string{"Home", "https://example.com/", "0", "seed", "37", "completed"}
	if !reflect.DeepEqual(records[1], wantRow) {
		t.Fatalf("row = %v, want %v", records[1], wantRow)
	}
}
