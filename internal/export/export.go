// Package export turns a finished crawl result into serialized documents.
// Every transform here is pure and stateless: the crawler itself never
// writes to disk or a database.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/internal/crawler"
	"github.com/adriejeon/featureDetective/pkg/types"
)

type jsonDocument struct {
	CrawlResults []types.PageResult `json:"crawl_results"`
	Stats        types.CrawlStats   `json:"stats"`
	Config       config.CrawlConfig `json:"config"`
}

// JSON writes the full result sequence, final stats, and the crawl config
// as an indented JSON document.
func JSON(w io.Writer, res *crawler.Result, cfg config.CrawlConfig) error {
	doc := jsonDocument{
		CrawlResults: res.Pages,
		Stats:        res.Stats,
		Config:       cfg,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

var csvHeader = []string{"title", "url", "depth", "source", "content_length", "status"}

// CSV writes one row per PageResult with summary columns, content omitted.
func CSV(w io.Writer, pages []types.PageResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, page := range pages {
		row := []string{
			page.Title,
			page.URL,
			strconv.Itoa(page.Depth),
			string(page.Source),
			strconv.Itoa(page.ContentLength),
			string(page.Status),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", page.URL, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
