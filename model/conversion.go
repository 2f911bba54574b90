package model

import "time"

// Conversion status values stored in ConversionRecord.Status.
const (
	ConversionStatusConverted = "converted"
	ConversionStatusSkipped   = "skipped"
	ConversionStatusFailed    = "failed"
)

// ConversionRecord is one finished job in the conversion history.
type ConversionRecord struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	BatchID         string    `json:"batchId" gorm:"size:36;index;not null"`
	InputPath       string    `json:"inputPath" gorm:"size:1024;not null"`
	PlaylistPath    string    `json:"playlistPath" gorm:"size:1024;not null"`
	Status          string    `json:"status" gorm:"size:20;index;not null"` // converted, skipped, failed
	Segments        int       `json:"segments"`
	DurationSeconds float64   `json:"durationSeconds"`
	ElapsedMillis   int64     `json:"elapsedMillis"`
	Error           string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (ConversionRecord) TableName() string {
	return "conversions"
}
