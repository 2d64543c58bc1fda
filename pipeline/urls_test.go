package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"10.0.0.5", 80, "http://10.0.0.5"},
		{"10.0.0.5", 443, "https://10.0.0.5"},
		{"10.0.0.5", 8443, "https://10.0.0.5:8443"},
		{"10.0.0.5", 3443, "https://10.0.0.5:3443"},
		{"10.0.0.5", 8080, "http://10.0.0.5:8080"},
		{"app.example.com", 3000, "http://app.example.com:3000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ServiceURL(tt.host, tt.port))
	}
}

func TestIsWebPort(t *testing.T) {
	assert.True(t, IsWebPort(80))
	assert.True(t, IsWebPort(8888))
	assert.False(t, IsWebPort(22))
	assert.False(t, IsWebPort(3306))
}

func TestScanURLsFiltersAndDedupes(t *testing.T) {
	services := []Service{
		{AssetValue: "10.0.0.5", Port: 80},
		{AssetValue: "10.0.0.5", Port: 22},
		{AssetValue: "10.0.0.5", Port: 80}, // duplicate report
		{AssetValue: "app.example.com", Port: 443},
	}
	urls := ScanURLs(services)
	assert.Equal(t, []string{"http://10.0.0.5", "https://app.example.com"}, urls)
}

func TestScanURLsNoWebServices(t *testing.T) {
	services := []Service{
		{AssetValue: "10.0.0.5", Port: 22},
		{AssetValue: "10.0.0.5", Port: 5432},
	}
	assert.Empty(t, ScanURLs(services))
}
