// Package archive looks up host stars in the NASA Exoplanet Archive TAP
// service and links a SkyView cutout for them.
package archive

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrStarNotFound is returned when the archive has no row for a host name.
var ErrStarNotFound = errors.New("star not found in NASA's archive")

const starQuery = `select hostname, ra, dec, st_spectype, sy_snum, sy_pnum, sy_dist from pscomppars where hostname='%s'`

// MetricsInterface defines metrics methods needed by the client
type MetricsInterface interface {
	ArchiveLookupInc(outcome string)
}

// StarInfo describes a host star. Constellation is never filled in.
type StarInfo struct {
	Name            string  `json:"name"`
	ImageURL        string  `json:"imageUrl"`
	SpectralType    *string `json:"spectralType"`
	NumberOfStars   string  `json:"numberOfStars"`
	NumberOfPlanets string  `json:"numberOfPlanets"`
	Distance        *string `json:"distance"`
	Constellation   *string `json:"constellation"`
	RA              float64 `json:"ra"`
	Dec             float64 `json:"dec"`
}

type Client struct {
	tapURL, skyViewURL string
	rest               *resty.Client
	metrics            MetricsInterface
}

func NewClient(tapURL, skyViewURL string, timeout time.Duration, metrics MetricsInterface) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Accept", "text/csv")
	return &Client{tapURL: tapURL, skyViewURL: skyViewURL, rest: r, metrics: metrics}
}

// StarQuery builds the ADQL query for a host name. Single quotes are doubled.
func StarQuery(name string) string {
	return fmt.Sprintf(starQuery, strings.ReplaceAll(name, "'", "''"))
}

// StarInfo fetches the composite parameters of a host star.
func (c *Client) StarInfo(ctx context.Context, name string) (*StarInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("star name cannot be empty")
	}

	info, err := c.lookup(ctx, name)
	c.observe(err)
	if err != nil {
		log.Debug().Err(err).Str("star", name).Msg("Archive lookup failed")
	}
	return info, err
}

func (c *Client) lookup(ctx context.Context, name string) (*StarInfo, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":  StarQuery(name),
			"format": "csv",
		}).
		Get(c.tapURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("archive error: status %d, body: %s", resp.StatusCode(), resp.String())
	}

	row, err := firstRow(strings.NewReader(resp.String()))
	if err != nil {
		return nil, err
	}
	return c.starFromRow(row)
}

func (c *Client) observe(err error) {
	if c.metrics == nil {
		return
	}
	switch {
	case err == nil:
		c.metrics.ArchiveLookupInc("found")
	case errors.Is(err, ErrStarNotFound):
		c.metrics.ArchiveLookupInc("not_found")
	default:
		c.metrics.ArchiveLookupInc("error")
	}
}

func firstRow(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrStarNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive header: %w", err)
	}

	record, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrStarNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive row: %w", err)
	}

	row := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			row[strings.TrimSpace(col)] = strings.TrimSpace(record[i])
		}
	}
	return row, nil
}

func (c *Client) starFromRow(row map[string]string) (*StarInfo, error) {
	info := &StarInfo{
		Name:            row["hostname"],
		NumberOfStars:   row["sy_snum"],
		NumberOfPlanets: row["sy_pnum"],
	}
	if st := row["st_spectype"]; st != "" {
		info.SpectralType = &st
	}

	ra, dec := row["ra"], row["dec"]
	if ra != "" && dec != "" {
		var err error
		if info.RA, err = strconv.ParseFloat(ra, 64); err != nil {
			return nil, fmt.Errorf("invalid ra %q: %w", ra, err)
		}
		if info.Dec, err = strconv.ParseFloat(dec, 64); err != nil {
			return nil, fmt.Errorf("invalid dec %q: %w", dec, err)
		}
	}
	info.ImageURL = SkyViewURL(c.skyViewURL, ra, dec)

	if d := row["sy_dist"]; d != "" {
		v, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sy_dist %q: %w", d, err)
		}
		s := FormatDistance(v)
		info.Distance = &s
	}
	return info, nil
}

// SkyViewURL links a DSS2 Red JPEG cutout centred on ra,dec.
func SkyViewURL(base, ra, dec string) string {
	q := url.Values{}
	q.Set("Survey", "DSS2 Red")
	q.Set("Position", ra+","+dec)
	q.Set("Size", "0.25")
	q.Set("Pixels", "300")
	q.Set("Return", "JPEG")
	return base + "?" + q.Encode()
}

var printer = message.NewPrinter(language.English)

// FormatDistance renders parsecs with two decimals and thousands separators.
func FormatDistance(parsecs float64) string {
	return printer.Sprintf("%.2f parsecs", parsecs)
}
