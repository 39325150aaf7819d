package di

import (
	"github.com/mix-go/xdi"
	"github.com/mix-go/xutil/xenv"

	"taskkernel/config/configor"
)

func init() {
	obj := xdi.Object{
		Name: "config",
		New: func() (i interface{}, e error) {
			return configor.Load(xenv.Getenv("APP_CONFIG_FILE").String(configor.DefaultFile))
		},
	}
	if err := xdi.Provide(&obj); err != nil {
		panic(err)
	}
}

func Config() (cfg *configor.Config) {
	if err := xdi.Populate("config", &cfg); err != nil {
		panic(err)
	}
	return
}
