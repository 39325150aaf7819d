package di

import (
	"errors"

	"github.com/mix-go/xdi"
	"github.com/redis/go-redis/v9"
)

func init() {
	obj := xdi.Object{
		Name: "redis",
		New: func() (i interface{}, e error) {
			cfg := Config()
			if cfg.Redis.Addr == "" {
				return nil, errors.New("redis addr is not configured")
			}
			return redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}), nil
		},
	}
	if err := xdi.Provide(&obj); err != nil {
		panic(err)
	}
}

func Redis() (client *redis.Client) {
	if err := xdi.Populate("redis", &client); err != nil {
		panic(err)
	}
	return
}
