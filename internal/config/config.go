package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Dedup         DedupConfig
	Cluster       ClusterConfig
	Triangulation TriangulationConfig
	Detection     DetectionConfig
	Adaptive      AdaptiveConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes          []string
	Keyspace       string
	Username       string
	Password       string
	RequestTimeout time.Duration
	MaxRetries     int
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers          []string
	ObservationTopic string
	AlertTopic       string
	// ConsumerGroup names the group for the observation-event worker.
	// Empty disables event-driven analysis.
	ConsumerGroup string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL         string
	Username    string
	Password    string
	ThreatIndex string
}

// DedupConfig controls the fingerprint deduplicator.
type DedupConfig struct {
	TimeBucket     time.Duration // observation time window per fingerprint
	SignalBucket   int           // dBm granularity per fingerprint
	MinConfidence  float64       // fuzzy-match acceptance floor
	BucketSearch   int           // adjacent time buckets scanned for fuzzy matches
	TemporalWeight float64
	SignalWeight   float64
}

// ClusterConfig controls the spatial collision analyzer.
type ClusterConfig struct {
	EpsilonMeters     float64 // DBSCAN neighborhood radius
	MinPoints         int     // DBSCAN core-point threshold
	VendorReuseMeters float64 // cluster separation implying address reuse
	MobileSpanMeters  float64 // span within which one mobile device fits
}

type TriangulationConfig struct {
	MaxPositionAge time.Duration // position fix staleness cutoff
}

// DetectionConfig holds the reference location and the run cadence; distance
// bands and thresholds themselves live in versioned DetectionSettings rows.
type DetectionConfig struct {
	ReferenceLat float64
	ReferenceLon float64
	OwnedDevices []string // BSSIDs never treated as threats
	ScanInterval time.Duration
}

type AdaptiveConfig struct {
	FeedbackWindow time.Duration
	RaiseRate      float64 // FP rate above which thresholds are raised
	LowerRate      float64 // FP rate below which thresholds are lowered
	RaiseFactor    float64
	LowerFactor    float64
}

type BucketingConfig struct {
	CellSizeDegrees float64 // geo cell edge for spatial-range lookups
}

// LoadConfig reads the environment (optionally seeded from .env) into a Config.
func LoadConfig() *Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	return &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Scylla: ScyllaConfig{
			Nodes:          util.GetEnvList("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
			Keyspace:       util.GetEnv("SCYLLA_KEYSPACE", "shadowcheck"),
			Username:       util.GetEnv("SCYLLA_USERNAME", ""),
			Password:       util.GetEnv("SCYLLA_PASSWORD", ""),
			RequestTimeout: util.GetEnvDuration("SCYLLA_REQUEST_TIMEOUT", 5*time.Second),
			MaxRetries:     util.GetEnvInt("SCYLLA_MAX_RETRIES", 3),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:          util.GetEnvList("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
			ObservationTopic: util.GetEnv("KAFKA_OBSERVATION_TOPIC", "observations.canonical"),
			AlertTopic:       util.GetEnv("KAFKA_ALERT_TOPIC", "threats.alerts"),
			ConsumerGroup:    util.GetEnv("KAFKA_CONSUMER_GROUP", "shadowcheck-analysis"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "127.0.0.1:9000"),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "shadowcheck"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:         util.GetEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
			Username:    util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:    util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			ThreatIndex: util.GetEnv("ELASTICSEARCH_THREAT_INDEX", "threat-records"),
		},
		Dedup: DedupConfig{
			TimeBucket:     util.GetEnvDuration("DEDUP_TIME_BUCKET", 10*time.Second),
			SignalBucket:   util.GetEnvInt("DEDUP_SIGNAL_BUCKET", 5),
			MinConfidence:  util.GetEnvFloat("DEDUP_MIN_CONFIDENCE", 0.7),
			BucketSearch:   util.GetEnvInt("DEDUP_BUCKET_SEARCH", 2),
			TemporalWeight: util.GetEnvFloat("DEDUP_TEMPORAL_WEIGHT", 0.6),
			SignalWeight:   util.GetEnvFloat("DEDUP_SIGNAL_WEIGHT", 0.4),
		},
		Cluster: ClusterConfig{
			EpsilonMeters:     util.GetEnvFloat("CLUSTER_EPSILON_METERS", 100),
			MinPoints:         util.GetEnvInt("CLUSTER_MIN_POINTS", 3),
			VendorReuseMeters: util.GetEnvFloat("CLUSTER_VENDOR_REUSE_METERS", 10_000),
			MobileSpanMeters:  util.GetEnvFloat("CLUSTER_MOBILE_SPAN_METERS", 1_000),
		},
		Triangulation: TriangulationConfig{
			MaxPositionAge: util.GetEnvDuration("TRIANGULATION_MAX_POSITION_AGE", 5*time.Minute),
		},
		Detection: DetectionConfig{
			ReferenceLat: util.GetEnvFloat("DETECTION_REFERENCE_LAT", 0),
			ReferenceLon: util.GetEnvFloat("DETECTION_REFERENCE_LON", 0),
			OwnedDevices: util.GetEnvList("DETECTION_OWNED_DEVICES", nil),
			ScanInterval: util.GetEnvDuration("DETECTION_SCAN_INTERVAL", 0),
		},
		Adaptive: AdaptiveConfig{
			FeedbackWindow: util.GetEnvDuration("ADAPTIVE_FEEDBACK_WINDOW", 30*24*time.Hour),
			RaiseRate:      util.GetEnvFloat("ADAPTIVE_RAISE_RATE", 0.5),
			LowerRate:      util.GetEnvFloat("ADAPTIVE_LOWER_RATE", 0.2),
			RaiseFactor:    util.GetEnvFloat("ADAPTIVE_RAISE_FACTOR", 1.5),
			LowerFactor:    util.GetEnvFloat("ADAPTIVE_LOWER_FACTOR", 0.8),
		},
		Bucketing: BucketingConfig{
			CellSizeDegrees: util.GetEnvFloat("BUCKETING_CELL_SIZE_DEGREES", 0.01),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
