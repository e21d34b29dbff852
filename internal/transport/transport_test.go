package transport

import "testing"

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		device Device
		want   bool
	}{
		{"name", Filter{Name: "Water36088"}, Device{Name: "Water36088"}, true},
		{"address ignores case", Filter{Address: "6D:6C:00:02:73:63"}, Device{Address: "6d:6c:00:02:73:63"}, true},
		{"address with unnamed device", Filter{Name: "Water36088", Address: "6D:6C:00:02:73:63"}, Device{Address: "6D:6C:00:02:73:63"}, true},
		{"other device", Filter{Name: "Water36088"}, Device{Name: "Water11111"}, false},
		{"empty filter", Filter{}, Device{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.device); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
