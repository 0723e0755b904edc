package fetcher

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogXML = `<?xml version="1.0" encoding="UTF-8"?>
<catalog>
  <Product id="P1">
    <name>OLED55C3</name>
    <price currency="EUR">1299.00</price>
    <brand><label>LG</label></brand>
    <images><image>a.jpg</image><image>b.jpg</image></images>
  </Product>
  <product id="P2">
    <name>QE55Q80C</name>
  </product>
</catalog>`

func TestStreamXML_Fields(t *testing.T) {
	items, err := drain(StreamXML[Fields](context.Background(), strings.NewReader(catalogXML), "product"))
	require.NoError(t, err)
	require.Len(t, items, 2)

	p1 := items[0]
	assert.Equal(t, "P1", p1["id"])
	assert.Equal(t, "OLED55C3", p1["name"])
	assert.Equal(t, "1299.00", p1["price"])
	assert.Equal(t, "EUR", p1["price@currency"])
	assert.Equal(t, "LG", p1["label"])
	assert.Equal(t, "a.jpg", p1["image"])
	assert.NotContains(t, p1, "brand")

	assert.Equal(t, "P2", items[1]["id"])
}

func TestStreamXML_Struct(t *testing.T) {
	type product struct {
		ID   string `xml:"id,attr"`
		Name string `xml:"name"`
	}
	items, err := drain(StreamXML[product](context.Background(), strings.NewReader(catalogXML), "Product"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "OLED55C3", items[0].Name)
}

func TestStreamXML_Charset(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="ISO-8859-1"?><catalog><product><name>T`)
	buf.WriteByte(0xe9) // é in Latin-1
	buf.WriteString(`l</name></product></catalog>`)

	items, err := drain(StreamXML[Fields](context.Background(), &buf, "product"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Tél", items[0]["name"])
}

func TestStreamXML_Malformed(t *testing.T) {
	_, err := drain(StreamXML[Fields](context.Background(), strings.NewReader("<catalog><product>"), "product"))
	assert.Error(t, err)
}
