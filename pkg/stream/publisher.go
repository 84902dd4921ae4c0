// Package stream publishes backtest output over NATS so downstream
// consumers (dashboards, analysis jobs) can follow a run live.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/quantfold/backtest/pkg/schema"
)

// Subjects used by the publisher.
const (
	SubjectReports = "backtest.reports"
	SubjectSummary = "backtest.summary"
)

// Summary is the end-of-run digest pushed to SubjectSummary.
type Summary struct {
	Records   int   `json:"records"`
	Orders    int64 `json:"orders"`
	Fills     int64 `json:"fills"`
	Volume    int64 `json:"volume"`
	Position  int64 `json:"position"`
	FinalTime int64 `json:"finalTime"`
}

// Publisher sends reports and summaries to a NATS server. A nil
// Publisher is a valid no-op, so callers do not special-case runs
// without streaming configured.
type Publisher struct {
	nc     *nats.Conn
	logger log.Logger
}

// Connect dials the NATS server at url.
func Connect(url string, logger log.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	logger.Info("nats connected", "url", url)
	return &Publisher{nc: nc, logger: logger}, nil
}

// PublishReport pushes one execution report.
func (p *Publisher) PublishReport(rep schema.ExecutionReport) {
	if p == nil {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		p.logger.Error("marshaling report", "error", err)
		return
	}
	if err := p.nc.Publish(SubjectReports, data); err != nil {
		p.logger.Error("publishing report", "error", err)
	}
}

// PublishSummary pushes the end-of-run digest and flushes.
func (p *Publisher) PublishSummary(s Summary) {
	if p == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		p.logger.Error("marshaling summary", "error", err)
		return
	}
	if err := p.nc.Publish(SubjectSummary, data); err != nil {
		p.logger.Error("publishing summary", "error", err)
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Error("flushing nats", "error", err)
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.nc.Close()
}
