// Command changefeed publishes one feature change event to the invalidation
// topic. It is the manual counterpart of the editing side's change stream.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/nearby-search/internal/core/config"
	"github.com/mohammed-shakir/nearby-search/internal/invalidation"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "changefeed:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("changefeed", flag.ContinueOnError)
	brokers := fs.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated broker list")
	topic := fs.String("topic", getenv("KAFKA_TOPIC", "spatial-invalidation"), "invalidation topic")
	layer := fs.String("layer", "", "GeoServer layer, e.g. demo:places")
	op := fs.String("op", "update", "insert|update|delete")
	featureID := fs.String("feature-id", "", "id of the changed feature")
	point := fs.String("point", "", "lon,lat of a changed point feature")
	bbox := fs.String("bbox", "", "x1,y1,x2,y2 in EPSG:4326")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ev, err := buildEvent(*layer, *op, *featureID, *point, *bbox, time.Now().UTC())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(config.SplitCSV(*brokers), cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: *topic,
		Key:   sarama.StringEncoder(ev.Layer),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("published %s %s to %s[%d]@%d\n", ev.Op, ev.Layer, *topic, part, off)
	return nil
}

func buildEvent(layer, op, featureID, point, bbox string, now time.Time) (invalidation.Event, error) {
	ev := invalidation.Event{
		Version: 1,
		Op:      op,
		Layer:   strings.TrimSpace(layer),
		TS:      now,
		Source:  "changefeed",
	}
	if featureID != "" {
		if n, err := strconv.ParseInt(featureID, 10, 64); err == nil {
			ev.FeatureID = n
		} else {
			ev.FeatureID = featureID
		}
	}
	switch {
	case point != "" && bbox != "":
		return ev, errors.New("use either -point or -bbox")
	case point != "":
		xy, err := floats(point, 2)
		if err != nil {
			return ev, fmt.Errorf("point: %w", err)
		}
		ev.Geometry = json.RawMessage(fmt.Sprintf(`{"type":"Point","coordinates":[%s,%s]}`,
			strconv.FormatFloat(xy[0], 'f', -1, 64), strconv.FormatFloat(xy[1], 'f', -1, 64)))
	case bbox != "":
		b, err := floats(bbox, 4)
		if err != nil {
			return ev, fmt.Errorf("bbox: %w", err)
		}
		ev.BBox = &invalidation.BBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3], SRID: "EPSG:4326"}
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

func floats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values", n)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float: %w", err)
		}
		out[i] = f
	}
	return out, nil
}
