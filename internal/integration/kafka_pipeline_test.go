//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-feature-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/climate-feature-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-feature-etl/internal/config"
	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
	"github.com/couchcryptid/climate-feature-etl/internal/pipeline"
)

const (
	testSourceTopic = "test-observations"
	testSinkTopic   = "test-feature-vectors"
)

// publishedResult holds a deserialized message read from the sink topic.
type publishedResult struct {
	Result  domain.FeatureResult
	Key     string
	Headers map[string]string
}

func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedResult {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var result domain.FeatureResult
	require.NoError(t, json.Unmarshal(msg.Value, &result), "unmarshal sink message")

	return publishedResult{Result: result, Key: string(msg.Key), Headers: headers}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

// newTransformer pins the domain clock to 06:00 UTC on the day after the
// fixture so observation timestamps fall inside the accepted window.
func newTransformer(t *testing.T) *pipeline.FeatureTransformer {
	t.Helper()
	t.Cleanup(domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.March, 6, 6, 0, 0, 0, time.UTC))))
	cfg, err := domain.DefaultPipelineConfig()
	require.NoError(t, err)
	return pipeline.NewTransformer(csvfile.NewSource(historyFixture), nil, cfg, discardLogger(), observability.NewMetricsForTesting())
}

// observation builds a request for the hour after the fixture ends, shifted
// by offset hours.
func observation(t *testing.T, offset int, temp float64) []byte {
	t.Helper()
	ts := time.Date(2024, time.March, 6, offset, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(domain.ObservationRequest{
		Timestamp:    &ts,
		Temperature:  temp,
		Humidity:     78,
		Rainfall:     0,
		HorizonHours: 1,
	})
	require.NoError(t, err)
	return payload
}

func newSinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaReaderWriter round-trips one observation through the Kafka
// adapters and the feature transformer.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	payload := observation(t, 0, 26.1)
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("station-1"), Value: payload}))

	// The consumer group may need a rebalance before partitions are assigned.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("station-1"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	result, err := newTransformer(t).Transform(ctx, raw)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.FeatureResult{result}))

	pr := readResult(ctx, t, newSinkConsumer(t, broker))
	assert.Equal(t, result.ID, pr.Key)
	assert.Equal(t, "ok", pr.Headers["status"])
	assert.Equal(t, "1", pr.Headers["horizon_hours"])
	_, err = time.Parse(time.RFC3339, pr.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	vec, ok := pr.Result.Vector("temperature")
	require.True(t, ok)
	assert.InDelta(t, 26.1, vec.Values["temperature"], 1e-9)
	assert.InDelta(t, 8.0, vec.Values["hour_of_day"], 1e-9)
	assert.InDelta(t, 24.3, vec.Values[domain.LagName(domain.ColTemperature, 1)], 1e-9)
}

// TestPipelineEndToEnd runs Reader, Transformer and Writer together and
// expects one feature result per published observation.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	const n = 6
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	msgs := make([]kafkago.Message, 0, n)
	for i := range n {
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("obs-%d", i)),
			Value: observation(t, i, 25+float64(i)/10),
		})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, newTransformer(t), writer, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := newSinkConsumer(t, broker)
	received := make([]publishedResult, 0, n)
	for len(received) < n {
		received = append(received, readResult(ctx, t, consumer))
	}

	pipelineCancel()
	require.NoError(t, <-errCh)
	require.NoError(t, p.CheckReadiness(ctx))

	hours := map[float64]bool{}
	for _, pr := range received {
		assert.Equal(t, domain.StatusOK, pr.Result.Status)
		assert.Equal(t, domain.SourceRequest, pr.Result.Source)
		assert.Len(t, pr.Result.Vectors, 2)
		vec, ok := pr.Result.Vector("rainfall")
		require.True(t, ok)
		hours[vec.Values["hour_of_day"]] = true
	}
	// 00:00..05:00 UTC is 08:00..13:00 WITA.
	assert.Len(t, hours, n)
	assert.True(t, hours[8])
	assert.True(t, hours[13])
}

// TestPipelineTransformError verifies that a poison pill is skipped and the
// pipeline keeps processing valid messages.
func TestPipelineTransformError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-poison")

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("out-of-range"), Value: []byte(`{"temperature":25,"humidity":140,"rainfall":0}`)},
		kafkago.Message{Key: []byte("good"), Value: observation(t, 0, 26.1)},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, newTransformer(t), writer, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := newSinkConsumer(t, broker)
	pr := readResult(ctx, t, consumer)
	assert.Equal(t, domain.StatusOK, pr.Result.Status)

	// Nothing else arrives: both bad messages were skipped.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
