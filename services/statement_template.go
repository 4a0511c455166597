package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/url"

	"github.com/skip2/go-qrcode"
)

var statementTemplate = template.Must(template.New("statement").Funcs(template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"units": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Number}}</title>
<style>
  body { font-family: Arial, Helvetica, sans-serif; color: #222; margin: 32px; font-size: 12px; }
  h1 { color: #007bff; font-size: 24px; margin: 0; }
  .muted { color: #666; }
  .header { display: flex; justify-content: space-between; margin-bottom: 24px; }
  table { width: 100%; border-collapse: collapse; margin-top: 16px; }
  th, td { padding: 8px; border-bottom: 1px solid #ddd; text-align: left; }
  td.num, th.num { text-align: right; }
  tr.total td { font-weight: bold; font-size: 14px; border-top: 2px solid #222; }
  .pay { margin-top: 32px; display: flex; align-items: center; gap: 24px; }
  .pay img { width: 140px; height: 140px; }
</style>
</head>
<body>
<div class="header">
  <div>
    <h1>Electricity Statement</h1>
    <div class="muted">#{{.Number}}</div>
  </div>
  <div style="text-align:right">
    <strong>{{.Company}}</strong><br>
    <span class="muted">Period {{.Period}}</span><br>
    <span class="muted">{{.From}} to {{.To}}</span>
  </div>
</div>

<div>
  <div class="muted">BILL TO</div>
  <strong>{{.Tenant.Name}}</strong><br>
  Shop {{.Tenant.ShopNumber}} &middot; Meter {{.Tenant.MeterNumber}}
</div>

<table>
  <tr><th>Opening reading</th><th>Closing reading</th><th class="num">Multiplier</th><th class="num">Units</th></tr>
  <tr>
    <td>{{units .Tenant.OpeningReading}}</td>
    <td>{{units .Tenant.ClosingReading}}</td>
    <td class="num">{{.Tenant.Multiplier}}</td>
    <td class="num">{{units .Invoice.Units}}</td>
  </tr>
</table>

<table>
  <tr><th>Description</th><th class="num">Amount</th></tr>
  <tr><td>Energy ({{units .Invoice.Units}} units &times; {{money .Invoice.RatePerUnit}})</td><td class="num">{{money .Invoice.EnergyCharge}}</td></tr>
  <tr><td>Fixed charge</td><td class="num">{{money .Invoice.FixedCharge}}</td></tr>
  {{if .Invoice.TransformerLossCharge}}<tr><td>Transformer loss ({{.Tenant.TransformerLoss}}%)</td><td class="num">{{money .Invoice.TransformerLossCharge}}</td></tr>{{end}}
  {{if .Invoice.DGCharge}}<tr><td>DG backup share</td><td class="num">{{money .Invoice.DGCharge}}</td></tr>{{end}}
  <tr class="total"><td>Total payable</td><td class="num">{{money .Invoice.TotalAmount}}</td></tr>
</table>

{{if .QRCode}}
<div class="pay">
  <img src="{{.QRCode}}" alt="UPI QR">
  <div>
    <strong>Pay with any UPI app</strong><br>
    <span class="muted">{{.UPIID}}</span>
  </div>
</div>
{{end}}
</body>
</html>
`))

type statementView struct {
	Number  string
	Company string
	Period  string
	From    string
	To      string
	Tenant  TenantPeriod
	Invoice InvoiceResult
	UPIID   string
	QRCode  template.URL
}

// upiPaymentURI builds the UPI deep link tenants scan to pay a statement.
func upiPaymentURI(upiID, payee string, amount float64, note string) string {
	v := url.Values{}
	v.Set("pa", upiID)
	v.Set("pn", payee)
	v.Set("am", fmt.Sprintf("%.2f", amount))
	v.Set("cu", "INR")
	v.Set("tn", note)
	return "upi://pay?" + v.Encode()
}

func paymentQRCode(upiID, payee string, amount float64, note string) (template.URL, error) {
	png, err := qrcode.Encode(upiPaymentURI(upiID, payee, amount, note), qrcode.Medium, 280)
	if err != nil {
		return "", fmt.Errorf("encode payment qr: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

func renderStatementHTML(view statementView) (string, error) {
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render statement html: %w", err)
	}
	return buf.String(), nil
}
