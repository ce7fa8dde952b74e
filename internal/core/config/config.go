package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type EventsCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	Queue   int
}

type MapCfg struct {
	ID   string
	WKID int
}

type DataSourceCfg struct {
	ID            string
	Layer         string
	MapID         string
	ObjectIDField string
	GeometryField string
}

type SearchCfg struct {
	ID       string
	TargetID string
	Distance float64
	Unit     string
}

type Config struct {
	Addr               string
	LogLevel           string
	LogConsole         bool
	LogSampleN         int
	GeometryServiceURL string
	GeometryGeodesic   bool
	GeoServerURL       string
	BufferTimeout      time.Duration
	QueryTimeout       time.Duration
	BufferCacheSize    int
	QueryCacheEnabled  bool
	RedisAddr          string
	QueryCacheTTL      time.Duration
	H3Res              int
	Maps               []MapCfg
	DataSources        []DataSourceCfg
	Searches           []SearchCfg
	Invalidation       InvalidationCfg
	Events             EventsCfg
	MetricsEnabled     bool
	MetricsAddr        string
	MetricsPath        string
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}
	oidField := getenv("DATA_SOURCE_OID_FIELD", "objectid")
	geomField := getenv("DATA_SOURCE_GEOM_FIELD", "geom")
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogConsole:         getbool("LOG_CONSOLE", false),
		LogSampleN:         getint("LOG_SAMPLE_N", 0),
		GeometryServiceURL: getenv("GEOMETRY_SERVICE_URL", "https://tasks.arcgisonline.com/ArcGIS/rest/services/Geometry/GeometryServer"),
		GeometryGeodesic:   getbool("GEOMETRY_GEODESIC", false),
		GeoServerURL:       getenv("GEOSERVER_URL", "http://localhost:8080/geoserver"),
		BufferTimeout:      getduration("BUFFER_TIMEOUT", 10*time.Second),
		QueryTimeout:       getduration("QUERY_TIMEOUT", 15*time.Second),
		BufferCacheSize:    getint("BUFFER_CACHE_SIZE", 256),
		QueryCacheEnabled:  getbool("QUERY_CACHE_ENABLED", false),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		QueryCacheTTL:      getduration("QUERY_CACHE_TTL", 60*time.Second),
		H3Res:              res,
		Maps:               parseMaps(getenv("MAPS", "main=4326")),
		DataSources:        parseDataSources(getenv("DATA_SOURCES", ""), oidField, geomField),
		Searches:           parseSearches(getenv("SEARCHES", "")),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "spatial-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "nearby-search"),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Topic:   getenv("EVENTS_TOPIC", "nearby-search-events"),
			Brokers: brokers,
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "key=value,key2=value2" into ordered pairs
func parsePairs(s string) [][2]string {
	var out [][2]string
	for _, p := range SplitCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			continue
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

// parse "main=3857,overview=4326"
func parseMaps(s string) []MapCfg {
	var out []MapCfg
	for _, kv := range parsePairs(s) {
		wkid, err := strconv.Atoi(kv[1])
		if err != nil || wkid <= 0 {
			continue
		}
		out = append(out, MapCfg{ID: kv[0], WKID: wkid})
	}
	return out
}

// parse "places=demo:places@main,roads=demo:roads@main"; the map defaults to
// the first configured map when omitted
func parseDataSources(s, oidField, geomField string) []DataSourceCfg {
	var out []DataSourceCfg
	for _, kv := range parsePairs(s) {
		layer, mapID, _ := strings.Cut(kv[1], "@")
		layer = strings.TrimSpace(layer)
		if layer == "" {
			continue
		}
		out = append(out, DataSourceCfg{
			ID:            kv[0],
			Layer:         layer,
			MapID:         strings.TrimSpace(mapID),
			ObjectIDField: oidField,
			GeometryField: geomField,
		})
	}
	return out
}

// parse "nearby=places:5:kilometer"
func parseSearches(s string) []SearchCfg {
	var out []SearchCfg
	for _, kv := range parsePairs(s) {
		parts := strings.Split(kv[1], ":")
		sc := SearchCfg{ID: kv[0], TargetID: strings.TrimSpace(parts[0]), Distance: 1, Unit: "kilometer"}
		if len(parts) > 1 {
			if d, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
				sc.Distance = d
			}
		}
		if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
			sc.Unit = strings.TrimSpace(parts[2])
		}
		out = append(out, sc)
	}
	return out
}
