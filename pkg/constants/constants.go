package constants

// Environment variables read by the upload gateway.
const (
	UploadDir            = "UPLOAD_DIR"
	UploadListenAddr     = "UPLOAD_LISTEN_ADDR"
	UploadBodyLimit      = "UPLOAD_BODY_LIMIT"
	UploadConfigFile     = "UPLOAD_CONFIG"
	UploadSweepSchedule  = "UPLOAD_SWEEP_SCHEDULE"
	UploadTempFileMaxAge = "UPLOAD_TEMP_FILE_MAX_AGE"
	UploadServerURL      = "UPLOAD_SERVER_URL"
)

const (
	UploadRoute   = "/upload"
	DownloadRoute = "/uploads"
	HealthRoute   = "/healthz"
	MetricsRoute  = "/metrics"

	// UploadOKBody is the whole response body of a successful upload.
	UploadOKBody = "OK"

	MetricsNamespace = "upload_gateway"
)
