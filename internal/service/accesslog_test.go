package service

import (
	"context"
	"testing"

	"github.com/ip-sentry/backend/internal/models"
)

func TestInsertAndQuery(t *testing.T) {
	setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	record := &models.AccessLog{
		TenantID:   "t1",
		UserID:     "u1",
		IPAddress:  "203.0.113.1",
		Method:     "POST",
		URL:        "https://example.com/v1/chat/completions?stream=true",
		Path:       "/v1/chat/completions",
		StatusCode: intPtr(200),
	}
	if err := svc.Insert(ctx, record); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if record.ID == 0 {
		t.Error("expected ID to be assigned")
	}
	if record.CreatedAt == 0 {
		t.Error("expected CreatedAt to be assigned")
	}

	records, total, err := svc.Query(ctx, LogFilter{IPAddress: "203.0.113.1"}, 1, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("expected 1 record, got total=%d len=%d", total, len(records))
	}
	if records[0].Path != "/v1/chat/completions" {
		t.Errorf("unexpected path %q", records[0].Path)
	}
}

func TestQueryFilters(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	rows := []models.AccessLog{
		{TenantID: "t1", IPAddress: "10.0.0.1", Method: "GET", Path: "/v1/models", StatusCode: intPtr(200), CreatedAt: base},
		{TenantID: "t1", IPAddress: "10.0.0.2", Method: "POST", Path: "/v1/chat/completions", StatusCode: intPtr(429), CreatedAt: base + 1000},
		{TenantID: "t2", IPAddress: "10.0.0.1", Method: "POST", Path: "/v1/chat/completions", StatusCode: intPtr(200), CreatedAt: base + 2000},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, total, err := svc.Query(ctx, LogFilter{TenantID: "t1"}, 1, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 2 {
		t.Errorf("tenant filter: expected 2, got %d", total)
	}

	_, total, err = svc.Query(ctx, LogFilter{Path: "chat"}, 1, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 2 {
		t.Errorf("path substring filter: expected 2, got %d", total)
	}

	_, total, err = svc.Query(ctx, LogFilter{StatusCode: intPtr(429)}, 1, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 1 {
		t.Errorf("status filter: expected 1, got %d", total)
	}

	start := base + 1000
	end := base + 2000
	_, total, err = svc.Query(ctx, LogFilter{StartDate: &start, EndDate: &end}, 1, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 2 {
		t.Errorf("inclusive date filter: expected 2, got %d", total)
	}
}

func TestQueryOrderingAndPagination(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		row := models.AccessLog{IPAddress: "10.0.0.1", Method: "GET", Path: "/v1/models", StatusCode: intPtr(200), CreatedAt: base + int64(i)*1000}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	// Two rows share a timestamp; the higher id must come first.
	for i := 0; i < 2; i++ {
		row := models.AccessLog{IPAddress: "10.0.0.1", Method: "GET", Path: "/v1/models", StatusCode: intPtr(200), CreatedAt: base + 10_000}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	records, total, err := svc.Query(ctx, LogFilter{}, 1, 3)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 7 {
		t.Errorf("expected total 7, got %d", total)
	}
	if len(records) != 3 {
		t.Fatalf("expected page of 3, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if cur.CreatedAt > prev.CreatedAt {
			t.Errorf("records not ordered by created_at desc")
		}
		if cur.CreatedAt == prev.CreatedAt && cur.ID > prev.ID {
			t.Errorf("tied records not ordered by id desc")
		}
	}

	// Out-of-range pages come back empty with the real total.
	records, total, err = svc.Query(ctx, LogFilter{}, 10, 50)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 7 || len(records) != 0 {
		t.Errorf("expected empty page with total 7, got total=%d len=%d", total, len(records))
	}

	// Invalid paging inputs fall back to the defaults.
	records, _, err = svc.Query(ctx, LogFilter{}, 0, 500)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 7 {
		t.Errorf("expected clamped query to return all 7 rows, got %d", len(records))
	}
}

func TestQueryMissingTable(t *testing.T) {
	setupBareTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	records, total, err := svc.Query(ctx, LogFilter{}, 1, 50)
	if err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Errorf("expected empty result, got total=%d len=%d", total, len(records))
	}

	aggs, err := svc.AggregateByIP(ctx, 0, 1)
	if err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if len(aggs) != 0 {
		t.Errorf("expected empty aggregation, got %d", len(aggs))
	}

	stats, err := svc.GetIPStats(ctx, "10.0.0.1", 0, 1)
	if err != nil {
		t.Fatalf("expected graceful degradation, got %v", err)
	}
	if stats.TotalRequests != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestAggregateByIP(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	rows := []models.AccessLog{
		{IPAddress: "10.0.0.1", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base},
		{IPAddress: "10.0.0.1", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base + 5000},
		{IPAddress: "10.0.0.2", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base + 1000},
		{IPAddress: "", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base + 2000},
		{IPAddress: "10.0.0.3", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base + 60_000},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	aggs, err := svc.AggregateByIP(ctx, base, base+10_000)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 IPs inside window, got %d", len(aggs))
	}

	byIP := map[string]models.IPAggregate{}
	for _, a := range aggs {
		byIP[a.IPAddress] = a
	}
	if a := byIP["10.0.0.1"]; a.Count != 2 || a.MaxCreatedAt != base+5000 {
		t.Errorf("unexpected aggregate for 10.0.0.1: %+v", a)
	}
	if a := byIP["10.0.0.2"]; a.Count != 1 {
		t.Errorf("unexpected aggregate for 10.0.0.2: %+v", a)
	}
}

func TestGetIPStats(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	rows := []models.AccessLog{
		{IPAddress: "10.0.0.9", Method: "GET", Path: "/v1/models", StatusCode: intPtr(200), ResponseTime: int64Ptr(100), CreatedAt: base},
		{IPAddress: "10.0.0.9", Method: "POST", Path: "/v1/chat/completions", StatusCode: intPtr(200), ResponseTime: int64Ptr(151), CreatedAt: base + 1000},
		{IPAddress: "10.0.0.9", Method: "POST", Path: "/v1/chat/completions", StatusCode: intPtr(500), ResponseTime: nil, CreatedAt: base + 2000},
		{IPAddress: "10.0.0.9", Method: "GET", Path: "/v1/usage", StatusCode: intPtr(404), ResponseTime: int64Ptr(50), CreatedAt: base + 3000},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := svc.GetIPStats(ctx, "10.0.0.9", base, base+10_000)
	if err != nil {
		t.Fatalf("GetIPStats failed: %v", err)
	}

	if stats.TotalRequests != 4 {
		t.Errorf("expected 4 requests, got %d", stats.TotalRequests)
	}
	if stats.SuccessCount != 2 || stats.ErrorCount != 2 {
		t.Errorf("unexpected success/error split: %d/%d", stats.SuccessCount, stats.ErrorCount)
	}
	// (100 + 151 + 50) / 3 rounds to 100.
	if stats.AvgResponseTime != 100 {
		t.Errorf("expected avg response time 100, got %d", stats.AvgResponseTime)
	}
	if stats.Methods["GET"] != 2 || stats.Methods["POST"] != 2 {
		t.Errorf("unexpected methods histogram: %v", stats.Methods)
	}
	if stats.StatusCodes["200"] != 2 || stats.StatusCodes["500"] != 1 || stats.StatusCodes["404"] != 1 {
		t.Errorf("unexpected status histogram: %v", stats.StatusCodes)
	}
	if stats.LastRequestAt != base+3000 {
		t.Errorf("expected last request at %d, got %d", base+3000, stats.LastRequestAt)
	}

	if len(stats.Paths) != 3 {
		t.Fatalf("expected 3 paths, got %d", len(stats.Paths))
	}
	if stats.Paths[0].Path != "/v1/chat/completions" || stats.Paths[0].Count != 2 {
		t.Errorf("unexpected top path: %+v", stats.Paths[0])
	}
	// Tied paths keep first-occurrence order.
	if stats.Paths[1].Path != "/v1/models" || stats.Paths[2].Path != "/v1/usage" {
		t.Errorf("unexpected tie order: %+v", stats.Paths[1:])
	}
}

func TestDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	svc := NewAccessLogService()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	for i := 0; i < 4; i++ {
		row := models.AccessLog{IPAddress: "10.0.0.1", Method: "GET", Path: "/a", StatusCode: intPtr(200), CreatedAt: base + int64(i)*1000}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	deleted, err := svc.DeleteOlderThan(ctx, base+2000)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	var remaining int64
	if err := db.Model(&models.AccessLog{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 2 {
		t.Errorf("expected 2 remaining, got %d", remaining)
	}
}
