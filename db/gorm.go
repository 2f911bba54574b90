package db

import (
	"fmt"
	"net"
	"time"

	"m3u8conv/config"
	"m3u8conv/logger"
	"m3u8conv/model"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSN builds the MySQL data source name for cfg.
func DSN(cfg *config.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// ConnectGormDB opens the history database and migrates its schema.
func ConnectGormDB(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormmysql.Open(DSN(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// 禁用外键约束
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrateModels(gdb, &model.ConversionRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("Connected to history database",
		logger.String("addr", net.JoinHostPort(cfg.DBHost, cfg.DBPort)),
		logger.String("db", cfg.DBName))
	return gdb, nil
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrateModels 自动迁移指定的模型
func AutoMigrateModels(gdb *gorm.DB, models ...interface{}) error {
	if err := gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}
