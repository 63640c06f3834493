package hardware

import "testing"

func TestParsePowerState(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want PowerState
	}{
		{
			name: "on",
			in:   "on",
			want: PowerOn,
		},
		{
			name: "off",
			in:   "off",
			want: PowerOff,
		},
		{
			name: "mixed case",
			in:   "On",
			want: PowerOn,
		},
		{
			name: "surrounding whitespace",
			in:   " off ",
			want: PowerOff,
		},
		{
			name: "empty",
			in:   "",
			want: PowerUnknown,
		},
		{
			name: "unrecognized",
			in:   "soft-shut-down",
			want: PowerUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePowerState(tt.in)
			if got != tt.want {
				t.Errorf("ParsePowerState(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAssociationState(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want AssociationState
	}{
		{
			name: "associated",
			in:   "associated",
			want: AssociationAssociated,
		},
		{
			name: "associating",
			in:   "associating",
			want: AssociationAssociating,
		},
		{
			name: "disassociating counts as in flight",
			in:   "disassociating",
			want: AssociationAssociating,
		},
		{
			name: "failed",
			in:   "failed",
			want: AssociationFailed,
		},
		{
			name: "mixed case",
			in:   "Associated",
			want: AssociationAssociated,
		},
		{
			name: "empty",
			in:   "",
			want: AssociationUnknown,
		},
		{
			name: "unrecognized",
			in:   "unassociated",
			want: AssociationUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAssociationState(tt.in)
			if got != tt.want {
				t.Errorf("ParseAssociationState(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
