package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmenta/prospect-cli/internal/model"
)

func TestSameCompany(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Entity
		want bool
	}{
		{
			name: "matching cnpj wins regardless of names",
			a:    model.Entity{Name: "Acme", CNPJ: "12.345.678/0001-95"},
			b:    model.Entity{Name: "Completely Different", CNPJ: "12345678000195"},
			want: true,
		},
		{
			name: "name containment with legal suffix",
			a:    model.Entity{Name: "Acme Embalagens Ltda"},
			b:    model.Entity{Name: "Acme Embalagens"},
			want: true,
		},
		{
			name: "case and diacritics ignored",
			a:    model.Entity{Name: "Indústria ACME"},
			b:    model.Entity{Name: "industria acme s.a."},
			want: true,
		},
		{
			name: "different cnpjs do not block a name match",
			a:    model.Entity{Name: "Beta Plásticos", CNPJ: "12345678000195"},
			b:    model.Entity{Name: "Beta Plásticos Eireli"},
			want: true,
		},
		{
			name: "unrelated companies",
			a:    model.Entity{Name: "Acme Embalagens"},
			b:    model.Entity{Name: "Beta Plásticos"},
			want: false,
		},
		{
			name: "empty names never match",
			a:    model.Entity{Name: ""},
			b:    model.Entity{Name: "Acme"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameCompany(tt.a, tt.b))
			assert.Equal(t, tt.want, SameCompany(tt.b, tt.a))
		})
	}
}

func TestNormalizeCompanyName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Embalagens Ltda", "acme embalagens"},
		{"Acme Embalagens LTDA.", "acme embalagens"},
		{"Indústria Química S.A.", "industria quimica"},
		{"Beta Plásticos Eireli ME", "beta plasticos"},
		{"  Gamma   Filmes  ", "gamma filmes"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeCompanyName(tt.in), "input %q", tt.in)
	}
}

func TestFilterDuplicates(t *testing.T) {
	clients := []model.Entity{{Name: "Acme Embalagens", CNPJ: "12345678000195"}}
	competitors := []model.Entity{{Name: "Beta Plásticos"}}

	candidates := []model.Entity{
		{Name: "Acme Embalagens Ltda"},            // duplicate of a client by name
		{Name: "Nova Corp", CNPJ: "12345678000195"}, // duplicate of a client by cnpj
		{Name: "Beta Plásticos S.A."},             // duplicate of a competitor
		{Name: "Gamma Filmes"},
		{Name: "Gamma Filmes Ltda"}, // duplicate within the batch
		{Name: "Delta Caixas"},
	}

	unique := FilterDuplicates(candidates, clients, competitors)

	require.Len(t, unique, 2)
	assert.Equal(t, "Gamma Filmes", unique[0].Name)
	assert.Equal(t, "Delta Caixas", unique[1].Name)
}

func TestFilterDuplicatesNoKnownLists(t *testing.T) {
	candidates := []model.Entity{
		{Name: "Acme"},
		{Name: "Acme Ltda"},
	}
	unique := FilterDuplicates(candidates)
	require.Len(t, unique, 1)
	assert.Equal(t, "Acme", unique[0].Name)
}
