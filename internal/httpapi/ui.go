package httpapi

import (
	"context"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"order-approval-service/internal/modal"
	"order-approval-service/internal/order"
)

type uiServer struct {
	orders Orders
	t      *template.Template
}

type uiOrderRow struct {
	OrderID    string
	WorkflowID string
	Status     modal.OrderStatus
}

type uiIndexData struct {
	Query  string
	Orders []uiOrderRow
	Error  string
}

type uiDetailData struct {
	OrderID  string
	Status   modal.OrderStatus
	Audit    []modal.AuditEvent
	Pending  bool
	Approver string
	Notice   string
	Error    string
}

func registerUIRoutes(r chi.Router, orders Orders) {
	t := template.Must(template.New("base").Parse(uiTemplates))
	s := &uiServer{orders: orders, t: t}

	r.Get("/ui", s.handleIndex)
	r.Get("/ui/orders/{orderId}", s.handleDetail)
	r.Post("/ui/orders/{orderId}/decision", s.handleDecision)
}

// handleIndex is the approval inbox: running instances still waiting for a decision.
// A search query jumps straight to the order's detail page.
func (s *uiServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q != "" {
		http.Redirect(w, r, "/ui/orders/"+url.PathEscape(q), http.StatusSeeOther)
		return
	}
	data := uiIndexData{Query: q}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	refs, err := s.orders.Pending(ctx, 200)
	if err != nil {
		data.Error = err.Error()
		s.render(w, r, "index", data)
		return
	}

	for _, ref := range refs {
		st, err := s.orders.Status(ctx, ref.OrderID)
		if err != nil {
			// Instances that fail to answer are left out of the inbox.
			continue
		}
		if st.Decision != order.DecisionPending {
			continue
		}
		data.Orders = append(data.Orders, uiOrderRow{OrderID: ref.OrderID, WorkflowID: ref.WorkflowID, Status: st})
		if len(data.Orders) >= 100 {
			break
		}
	}
	s.render(w, r, "index", data)
}

func (s *uiServer) handleDetail(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	data := uiDetailData{
		OrderID:  orderID,
		Approver: r.URL.Query().Get("approverId"),
		Notice:   r.URL.Query().Get("notice"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := s.orders.Status(ctx, orderID)
	if err != nil {
		data.Error = err.Error()
		w.WriteHeader(statusFor(err))
		s.render(w, r, "detail", data)
		return
	}
	data.Status = st
	data.Pending = st.Decision == order.DecisionPending && !st.Stage.Terminal()

	audit, _ := s.orders.Audit(ctx, orderID)
	data.Audit = audit

	s.render(w, r, "detail", data)
}

// handleDecision handles the approve/reject form and returns to the detail page.
func (s *uiServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	approverID := strings.TrimSpace(r.FormValue("approverId"))

	kind, err := order.ParseSignalKind(r.FormValue("decision"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	send := s.orders.Approve
	if kind == order.SignalReject {
		send = s.orders.Reject
	}
	ack, err := send(ctx, orderID, approverID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v := url.Values{}
	v.Set("approverId", approverID)
	v.Set("notice", ack)
	http.Redirect(w, r, "/ui/orders/"+url.PathEscape(orderID)+"?"+v.Encode(), http.StatusSeeOther)
}

func (s *uiServer) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if err := s.t.ExecuteTemplate(w, name, data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("render failed")
	}
}

const uiTemplates = `
{{define "index"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Order Approvals</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
    .err { color: #b00020; }
    .muted { color: #666; }
  </style>
</head>
<body>
  <h2>Order Approvals</h2>

  <form method="get" action="/ui">
    <input name="q" placeholder="ORDER-42" value="{{.Query}}" style="width: 320px;"/>
    <button type="submit">Open order</button>
  </form>

  {{if .Error}}<p class="err">{{.Error}}</p>{{end}}

  <h3>Awaiting decision</h3>
  <p class="muted">Running approval workflows whose decision is still pending.</p>
  <table>
    <thead><tr><th>OrderID</th><th>Stage</th><th>Workflow</th></tr></thead>
    <tbody>
    {{range .Orders}}
      <tr>
        <td><a href="/ui/orders/{{.OrderID}}">{{.OrderID}}</a></td>
        <td>{{.Status.Stage}}</td>
        <td>{{.WorkflowID}}</td>
      </tr>
    {{else}}
      <tr><td colspan="3" class="muted">(nothing to approve)</td></tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>
{{end}}

{{define "detail"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Order {{.OrderID}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    .err { color: #b00020; }
    .notice { color: #05631b; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
  </style>
</head>
<body>
  <a href="/ui">&larr; Back</a>
  <h2>Order {{.OrderID}}</h2>

  {{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
  {{if .Error}}<p class="err">{{.Error}}</p>{{else}}

  <p><b>Decision:</b> {{.Status.Decision}}<br/>
     <b>Approver:</b> {{if .Status.ApproverID}}{{.Status.ApproverID}}{{else}}-{{end}}<br/>
     <b>Stage:</b> {{.Status.Stage}}<br/>
     <b>Completed:</b> {{range .Status.Completed}}{{.}} {{else}}-{{end}}
     {{if .Status.Failure}}<br/><b>Failure:</b> {{.Status.Failure}}{{end}}</p>

  {{if .Pending}}
    <h3>Decision</h3>
    <form method="post" action="/ui/orders/{{.OrderID}}/decision">
      <label>Approver ID: <input name="approverId" value="{{.Approver}}"/></label><br/><br/>
      <button name="decision" value="approve" type="submit">Approve</button>
      <button name="decision" value="reject" type="submit">Reject</button>
    </form>
  {{end}}

  <h3>Audit Log</h3>
  <table>
    <thead><tr><th>Time</th><th>Kind</th><th>Message</th></tr></thead>
    <tbody>
      {{range .Audit}}
        <tr>
          <td>{{.At}}</td>
          <td>{{.Kind}}</td>
          <td>{{.Message}}</td>
        </tr>
      {{end}}
    </tbody>
  </table>
  {{end}}
</body>
</html>
{{end}}
`
