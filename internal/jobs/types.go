// Package jobs は抽出ジョブの状態管理機能を提供します。
package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態（completed / failed）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage は処理中ジョブの現在段階を表します。
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageExtracting Stage = "extracting"
	StageZipping    Stage = "zipping"
)

// LogLevel はジョブログの重要度を表します。
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogDebug LogLevel = "DEBUG"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// LogEntry はジョブ処理ログの1行です。追記のみで、編集・削除されません。
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Dimensions は画像の寸法と縦横比を表します。
type Dimensions struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
}

// Position は画像のページ内座標を表します。
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ImageMetadata は抽出された画像1枚のメタデータです。生成後は変更されません。
type ImageMetadata struct {
	Filename   string     `json:"filename"`
	Page       int        `json:"page"`
	SizeBytes  int64      `json:"sizeBytes"`
	Dimensions Dimensions `json:"dimensions"`
	Format     string     `json:"format"`
	Position   Position   `json:"position"`
}

// ExtractionInfo は抽出結果のサマリーです。
type ExtractionInfo struct {
	PDFFilename    string `json:"pdfFilename"`
	TotalPages     int    `json:"totalPages"`
	ExtractionDate string `json:"extractionDate"`
	ProcessingTime string `json:"processingTime"`
	TotalImages    int    `json:"totalImages"`
}

// ExtractionMetadata は抽出結果レポート全体です。ジョブ成功時にのみ生成されます。
type ExtractionMetadata struct {
	ExtractionInfo ExtractionInfo  `json:"extractionInfo"`
	Images         []ImageMetadata `json:"images"`
}

// Record は1件の抽出ジョブの現在状態を表します。
// 生成後の更新は、そのジョブを実行するパイプラインだけが行います。
type Record struct {
	ID             string              `json:"id"`
	Filename       string              `json:"filename"`
	FileSize       int64               `json:"fileSize"`
	Status         Status              `json:"status"`
	Progress       int                 `json:"progress"`
	CurrentStage   Stage               `json:"currentStage"`
	TotalPages     int                 `json:"totalPages"`
	PagesProcessed int                 `json:"pagesProcessed"`
	ImagesFound    int                 `json:"imagesFound"`
	TotalImageSize int64               `json:"totalImageSize"`
	Logs           []LogEntry          `json:"logs"`
	Metadata       *ExtractionMetadata `json:"metadata,omitempty"`
	ZipPath        string              `json:"zipPath,omitempty"`
	JSONPath       string              `json:"jsonPath,omitempty"`
	StartedAt      time.Time           `json:"startedAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
}

// AppendLog はログを1行追記します。
func (r *Record) AppendLog(now time.Time, level LogLevel, message string) {
	r.Logs = append(r.Logs, LogEntry{Timestamp: now, Level: level, Message: message})
}

// Clone はレコードの深いコピーを返します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Logs = append([]LogEntry(nil), r.Logs...)
	if r.Metadata != nil {
		meta := *r.Metadata
		meta.Images = append([]ImageMetadata(nil), r.Metadata.Images...)
		cp.Metadata = &meta
	}
	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		cp.CompletedAt = &completedAt
	}
	return &cp
}
