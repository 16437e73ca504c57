// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// decisionMeasurement is the measurement written once per completed run.
const decisionMeasurement = "gate_decision"

// InfluxSink mirrors audit records into InfluxDB for dashboarding. The
// JSONL trail stays authoritative; this sink is best effort.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink connects a sink to the given InfluxDB v2 server.
func NewInfluxSink(url, token, org, bucket string) (*InfluxSink, error) {
	if url == "" || token == "" {
		return nil, errors.New("influx sink needs url and token")
	}
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}, nil
}

// Emit writes one decision point.
func (s *InfluxSink) Emit(ctx context.Context, rec Record) error {
	reason := ""
	if rec.RefusalReason != nil {
		reason = *rec.RefusalReason
	}
	point := influxdb2.NewPoint(
		decisionMeasurement,
		map[string]string{
			"tenant":   rec.TenantID,
			"decision": rec.FinalDecision,
		},
		map[string]interface{}{
			"latency_ms":     rec.LatencyMS,
			"retrieved_docs": len(rec.RetrievedDocIDs),
			"refusal_reason": reason,
		},
		time.Unix(rec.Timestamp, 0),
	)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write decision point: %w", err)
	}
	return nil
}

// Close releases the client and its connection pool.
func (s *InfluxSink) Close() {
	s.client.Close()
}
