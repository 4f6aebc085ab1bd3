package models

// Field-length caps applied before an access log row is persisted.
// No stored row ever exceeds these.
const (
	MaxURLLen       = 2000
	MaxPathLen      = 500
	MaxUserAgentLen = 500
	MaxRefererLen   = 500
	MaxErrorLen     = 1000
)

// AccessLog is one persisted inbound request. Rows are append-only:
// ID and CreatedAt are assigned at persistence and never updated.
// CreatedAt is UTC milliseconds.
type AccessLog struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IPAddress    string `gorm:"column:ip_address;index:idx_access_logs_ip_created,priority:1" json:"ip_address"`
	Method       string `gorm:"column:method" json:"method"`
	URL          string `gorm:"column:url" json:"url"`
	Path         string `gorm:"column:path" json:"path"`
	StatusCode   *int   `gorm:"column:status_code" json:"status_code,omitempty"`
	ResponseTime *int64 `gorm:"column:response_time" json:"response_time,omitempty"`
	UserAgent    string `gorm:"column:user_agent" json:"user_agent,omitempty"`
	Referer      string `gorm:"column:referer" json:"referer,omitempty"`
	TenantID     string `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	UserID       string `gorm:"column:user_id" json:"user_id,omitempty"`
	RequestBody  string `gorm:"column:request_body" json:"request_body,omitempty"`
	Error        string `gorm:"column:error" json:"error,omitempty"`
	CreatedAt    int64  `gorm:"column:created_at;index;index:idx_access_logs_ip_created,priority:2" json:"created_at"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

// IPBan is a blacklist entry. At most one active (non-expired) ban per IP.
type IPBan struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IPAddress string `gorm:"column:ip_address;uniqueIndex:idx_ip_bans_ip" json:"ip_address"`
	Reason    string `gorm:"column:reason" json:"reason"`
	BannedBy  string `gorm:"column:banned_by" json:"banned_by,omitempty"`
	ExpiresAt *int64 `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
}

func (IPBan) TableName() string {
	return "ip_bans"
}

// IsExpired reports whether the ban has lapsed at the given UTC-millisecond instant.
func (b *IPBan) IsExpired(nowMs int64) bool {
	return b.ExpiresAt != nil && *b.ExpiresAt <= nowMs
}

// IPAllow is a whitelist entry. The whitelist takes precedence over the
// blacklist in any combined allow check.
type IPAllow struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IPAddress string `gorm:"column:ip_address;uniqueIndex" json:"ip_address"`
	Reason    string `gorm:"column:reason" json:"reason,omitempty"`
	AddedBy   string `gorm:"column:added_by" json:"added_by,omitempty"`
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
}

func (IPAllow) TableName() string {
	return "ip_allows"
}

// Recommendation labels emitted by the detection engine.
const (
	RecommendBan     = "ban"
	RecommendMonitor = "monitor"
	RecommendSafe    = "safe"
)

// SuspiciousIP is a derived, transient risk assessment for one source IP.
// It is recomputed on demand and never persisted or cached.
type SuspiciousIP struct {
	IPAddress         string   `json:"ip_address"`
	RiskScore         int      `json:"risk_score"`
	RequestCount      int64    `json:"request_count"`
	RequestsPerMinute float64  `json:"requests_per_minute"`
	ErrorRate         float64  `json:"error_rate"`
	FailedAuthCount   int64    `json:"failed_auth_count"`
	SuspiciousFactors []string `json:"suspicious_factors"`
	LastRequestAt     int64    `json:"last_request_at"`
	Recommendation    string   `json:"recommendation"`
}

// IPAggregate is one row of the per-IP window aggregation.
type IPAggregate struct {
	IPAddress    string `gorm:"column:ip_address"`
	Count        int64  `gorm:"column:count"`
	MaxCreatedAt int64  `gorm:"column:max_created_at"`
}

// IPStats is the per-IP statistics payload of the admin surface.
type IPStats struct {
	TotalRequests   int64            `json:"total_requests"`
	SuccessCount    int64            `json:"success_count"`
	ErrorCount      int64            `json:"error_count"`
	AvgResponseTime int64            `json:"avg_response_time"`
	Methods         map[string]int64 `json:"methods"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Paths           []PathCount      `json:"paths"`
	LastRequestAt   int64            `json:"last_request_at"`
}

// PathCount is one entry of the top-paths ranking.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}
