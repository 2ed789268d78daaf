//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/epi-panel-etl/internal/adapter/kafka"
	"github.com/couchcryptid/epi-panel-etl/internal/adapter/source"
	"github.com/couchcryptid/epi-panel-etl/internal/config"
	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/mockdata"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
	"github.com/couchcryptid/epi-panel-etl/internal/pipeline"
)

var reportDate = time.Date(2020, time.March, 27, 0, 0, 0, 0, time.UTC)

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string, partitions int) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}))
}

type publishedRow struct {
	Row     domain.PanelRow
	Key     string
	Headers map[string]string
}

func readRows(ctx context.Context, t *testing.T, broker, topic string, n int) []publishedRow {
	t.Helper()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	out := make([]publishedRow, 0, n)
	for len(out) < n {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err, "read from sink topic")

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var row domain.PanelRow
		require.NoError(t, json.Unmarshal(msg.Value, &row), "unmarshal sink message")
		out = append(out, publishedRow{Row: row, Key: string(msg.Key), Headers: headers})
	}
	return out
}

// TestAssembleAndPublish runs a full assembly against the sample sources and
// reads every published row back from Kafka.
func TestAssembleAndPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "epi-panel-rows"
	createTopic(t, broker, topic, 3)

	sample := mockdata.NewSample(reportDate)
	handler, err := sample.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	cfg := &config.Config{
		FeedURLTemplate:   srv.URL + mockdata.PathFeed + "{date}.xlsx",
		EntityCodesURL:    srv.URL + mockdata.PathCodes,
		RegionsURL:        srv.URL + mockdata.PathRegions,
		RegionsTableIndex: 2,
		FetchTimeout:      10 * time.Second,
		KafkaBrokers:      []string{broker},
		KafkaSinkTopic:    topic,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	writer := kafka.NewWriter(cfg, logger)
	defer writer.Close()

	a := pipeline.NewAssembler(source.NewClient(cfg, logger, metrics), nil, writer, nil, logger, metrics)
	run, err := a.Assemble(ctx, reportDate.AddDate(0, 0, 1), pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	require.Nil(t, run.PublishErr)
	require.NotEmpty(t, run.Panel.Rows)

	rows := readRows(ctx, t, broker, topic, len(run.Panel.Rows))

	seen := make(map[string]time.Time)
	for _, r := range rows {
		assert.Equal(t, r.Row.LongCode, r.Key)
		assert.Equal(t, run.RunID, r.Headers["run_id"])
		assert.Equal(t, "2020-03-27", r.Headers["report_date"])
		assert.Equal(t, r.Row.Date.Format(domain.DateLayout), r.Headers["date"])

		// Per-entity order survives because each entity maps to one partition.
		if prev, ok := seen[r.Key]; ok {
			assert.True(t, r.Row.Date.After(prev), "%s out of order", r.Key)
		}
		seen[r.Key] = r.Row.Date
	}
	assert.ElementsMatch(t, run.Panel.Entities(), keys(seen))
}

func keys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
