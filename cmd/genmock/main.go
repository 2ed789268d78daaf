// Command genmock writes the sample source documents used by the panel
// tests to disk, and optionally serves them so the panel command can run
// against them offline.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -date 2020-03-27
//	go run ./cmd/genmock -serve :8090 -date 2020-03-27
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "directory to write fixture files to")
	addr := flag.String("serve", "", "serve the fixtures on this address")
	date := flag.String("date", "2020-03-27", "report date of the sample feed (YYYY-MM-DD)")
	flag.Parse()

	if *out == "" && *addr == "" {
		flag.Usage()
		return errors.New("one of -out or -serve is required")
	}

	reportDate, err := time.Parse(domain.DateLayout, *date)
	if err != nil {
		return fmt.Errorf("invalid -date: %w", err)
	}
	sample := mockdata.NewSample(reportDate)

	if *out != "" {
		if err := writeFixtures(*out, sample); err != nil {
			return err
		}
	}
	if *addr == "" {
		return nil
	}

	handler, err := sample.Handler()
	if err != nil {
		return err
	}
	base := "http://localhost" + *addr
	log.Printf("serving sample sources on %s; point the panel command at them with:", *addr)
	log.Printf("  FEED_URL_TEMPLATE=%s%s{date}.xlsx", base, mockdata.PathFeed)
	log.Printf("  ENTITY_CODES_URL=%s%s REGIONS_URL=%s%s", base, mockdata.PathCodes, base, mockdata.PathRegions)
	log.Printf("  US_STATES_URL=%s%s US_STATE_CODES_URL=%s%s", base, mockdata.PathStates, base, mockdata.PathStateCodes)
	log.Printf("  US_COUNTIES_URL=%s%s", base, mockdata.PathCounties)
	srv := &http.Server{Addr: *addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

func writeFixtures(dir string, s mockdata.Sample) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	workbook, err := mockdata.FeedWorkbook(s.Records, s.FeedColumns)
	if err != nil {
		return fmt.Errorf("render feed: %w", err)
	}
	files := map[string][]byte{
		"feed_" + s.ReportDate.Format(domain.DateLayout) + ".xlsx": workbook,
		"entity_codes.html": []byte(mockdata.EntityCodesHTML(s.Codes)),
		"regions.html":      []byte(mockdata.RegionsHTML(s.Regions)),
		"us_states.csv":     []byte(mockdata.StatesCSV(s.StateFeed)),
		"state_codes.html":  []byte(mockdata.StateCodesHTML(s.StateCodes)),
		"us_counties.csv":   []byte(mockdata.CountiesCSV(s.CountyFeed)),
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		log.Printf("wrote %s (%d bytes)", path, len(data))
	}
	return nil
}
