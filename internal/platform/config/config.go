// Package config loads process configuration from environment variables,
// with an optional config.yaml overlay that is hot-reloaded via fsnotify.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config holds the §6.6 environment variable subset plus connection
// strings for the Go-native backing services (Postgres/Redis/NATS) that
// stand in for the original's SQLAlchemy/Azure/Service-Bus stack.
type Config struct {
	ModelCacheDir  string `yaml:"model_cache_dir"`
	ModelRepo      string `yaml:"model_repository"`
	ImgSize        int    `yaml:"io_img_size"`
	ConfThreshold  float64 `yaml:"io_conf_thresh"`
	NMSIoU         float64 `yaml:"io_nms_iou"`
	InferenceMode  string `yaml:"io_mode"` // "onnx" | "binary"
	HealthPort     int    `yaml:"health_port"`

	ServiceBusConn string `yaml:"sb_conn"`
	QueueIn        string `yaml:"queue_in"`
	QueueOut       string `yaml:"queue_out"`

	BlobConnString string `yaml:"azure_storage_connection_string"`

	WorkerURL          string `yaml:"worker_url"`
	YOLOWorldWorkerURL string `yaml:"yoloworld_worker_url"`

	AccessTokenExpireMinutes int `yaml:"access_token_expire_minutes"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	NATSURL     string `yaml:"nats_url"`
}

func Default() Config {
	return Config{
		ModelCacheDir:            "/var/lib/intellioptics/models",
		ModelRepo:                "models",
		ImgSize:                  640,
		ConfThreshold:            0.25,
		NMSIoU:                   0.45,
		InferenceMode:            "onnx",
		HealthPort:               8080,
		QueueIn:                  "image-queries",
		QueueOut:                 "inference-results",
		AccessTokenExpireMinutes: 30,
		DatabaseURL:              "postgres://localhost:5432/intellioptics?sslmode=disable",
		RedisURL:                 "redis://localhost:6379/0",
		NATSURL:                  "nats://localhost:4222",
	}
}

// Load reads environment variables over the defaults, then merges an
// optional YAML file at path (if it exists) on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if v := os.Getenv("MODEL_CACHE_DIR"); v != "" {
		cfg.ModelCacheDir = v
	}
	if v := os.Getenv("MODEL_REPOSITORY"); v != "" {
		cfg.ModelRepo = v
	}
	if v := os.Getenv("IO_IMG_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImgSize = n
		}
	}
	if v := os.Getenv("IO_CONF_THRESH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ConfThreshold = f
		}
	}
	if v := os.Getenv("IO_NMS_IOU"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.NMSIoU = f
		}
	}
	if v := os.Getenv("IO_MODE"); v != "" {
		cfg.InferenceMode = v
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HealthPort = n
		}
	}
	if v := os.Getenv("SB_CONN"); v != "" {
		cfg.ServiceBusConn = v
	}
	if v := os.Getenv("SERVICE_BUS_CONN"); v != "" {
		cfg.ServiceBusConn = v
	}
	if v := os.Getenv("QUEUE_IN"); v != "" {
		cfg.QueueIn = v
	}
	if v := os.Getenv("QUEUE_OUT"); v != "" {
		cfg.QueueOut = v
	}
	if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" {
		cfg.BlobConnString = v
	}
	if v := os.Getenv("WORKER_URL"); v != "" {
		cfg.WorkerURL = v
	}
	if v := os.Getenv("YOLOWORLD_WORKER_URL"); v != "" {
		cfg.YOLOWorldWorkerURL = v
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AccessTokenExpireMinutes = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Watcher hot-reloads a YAML overlay file, invoking onChange with the
// newly merged Config whenever the file is written. Mirrors the
// fsnotify-based reload pattern; a reload re-runs Load, so every Config
// field is refreshed. Config holds no detector alert settings.
type Watcher struct {
	mu   sync.RWMutex
	cur  Config
	path string
}

func NewWatcher(initial Config, path string) *Watcher {
	return &Watcher{cur: initial, path: path}
}

func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) Watch(onChange func(Config)) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			w.mu.Unlock()
			if onChange != nil {
				onChange(cfg)
			}
		}
	}()
	return nil
}
