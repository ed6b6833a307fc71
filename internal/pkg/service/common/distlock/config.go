package distlock

import (
	"time"
)

const (
	BackendEtcd  = "etcd"
	BackendFile  = "file"
	BackendLocal = "local"
)

type Config struct {
	Backend string `configKey:"backend" configUsage:"Lock backend: etcd, file or local." validate:"required,oneof=etcd file local"`
	// LeaseDuration is the time after which a lock held by a dead process is released.
	LeaseDuration time.Duration `configKey:"leaseDuration" configUsage:"Lock lease duration." validate:"required,min=1s"`
	FileDir       string        `configKey:"fileDir" configUsage:"Directory for lock files, used by the file backend." validate:"required_if=Backend file"`
}

func NewConfig() Config {
	return Config{
		Backend:       BackendLocal,
		LeaseDuration: 10 * time.Second,
	}
}
