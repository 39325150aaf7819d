package di

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mix-go/xdi"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	obj := xdi.Object{
		Name: "gorm",
		New: func() (i interface{}, e error) {
			cfg := Config()
			if cfg.Database.DSN == "" {
				return nil, errors.New("database dsn is not configured")
			}
			dsn, err := mysql.ParseDSN(cfg.Database.DSN)
			if err != nil {
				return nil, err
			}
			dsn.ParseTime = true
			dsn.Loc = time.UTC
			db, err := gorm.Open(gormmysql.Open(dsn.FormatDSN()), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Warn),
			})
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(10)
			sqlDB.SetConnMaxLifetime(time.Hour)
			return db, nil
		},
	}
	if err := xdi.Provide(&obj); err != nil {
		panic(err)
	}
}

func Gorm() (db *gorm.DB) {
	if err := xdi.Populate("gorm", &db); err != nil {
		panic(err)
	}
	return
}
