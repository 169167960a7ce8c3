package binance

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStream(t *testing.T, handler http.HandlerFunc) *UserDataStream {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}
	}
	return NewUserDataStream(newTestClient(t, handler), zerolog.Nop())
}

func TestHandleOrderTradeUpdate(t *testing.T) {
	s := newTestStream(t, nil)

	var got *OrderTradeUpdate
	s.OnOrderUpdate(func(u *OrderTradeUpdate) { got = u })

	s.handleMessage([]byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1700000001000,
		"o":{
			"s":"ALPHAUSDT","c":"tp_a1b2c3d4","S":"BUY","o":"MARKET","ot":"TAKE_PROFIT_MARKET",
			"ps":"BOTH","x":"TRADE","X":"FILLED","i":55001,
			"ap":"0.0711","rp":"12.34"
		}
	}`))

	if got == nil {
		t.Fatal("order callback not invoked")
	}
	if got.Symbol != "ALPHAUSDT" || got.OrderID != 55001 {
		t.Errorf("symbol/id = %s/%d", got.Symbol, got.OrderID)
	}
	if got.ClientOrderID != "tp_a1b2c3d4" {
		t.Errorf("client id = %s", got.ClientOrderID)
	}
	if got.Status != OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", got.Status)
	}
	if got.OrigOrderType != OrderTypeTakeProfitMarket {
		t.Errorf("orig type = %s", got.OrigOrderType)
	}
	if got.AvgPrice.String() != "0.0711" {
		t.Errorf("avg price = %s", got.AvgPrice.String())
	}
	if got.RealizedPnl.String() != "12.34" {
		t.Errorf("realized pnl = %s", got.RealizedPnl.String())
	}
}

func TestHandleAccountUpdate(t *testing.T) {
	s := newTestStream(t, nil)

	var got []AccountPositionUpdate
	s.OnAccountUpdate(func(rows []AccountPositionUpdate) { got = rows })

	s.handleMessage([]byte(`{
		"e":"ACCOUNT_UPDATE","E":1700000002000,
		"a":{"m":"ORDER","P":[
			{"s":"ALPHAUSDT","pa":"-1354","ep":"0.0737","up":"3.52","ps":"BOTH"},
			{"s":"BETAUSDT","pa":"0","ep":"0","up":"0","ps":"BOTH"}
		]}
	}`))

	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Symbol != "ALPHAUSDT" || got[0].PositionAmt.String() != "-1354" {
		t.Errorf("row 0 = %+v", got[0])
	}
	if !got[1].PositionAmt.IsZero() {
		t.Errorf("row 1 amount = %s, want 0", got[1].PositionAmt.String())
	}
}

func TestListenKeyExpiredRotates(t *testing.T) {
	s := newTestStream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/listenKey" || r.Method != http.MethodPost {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"listenKey":"fresh-key"}`)
	})
	s.listenKey = "stale-key"

	s.handleMessage([]byte(`{"e":"listenKeyExpired"}`))

	s.mu.Lock()
	key := s.listenKey
	s.mu.Unlock()
	if key != "fresh-key" {
		t.Errorf("listen key = %q, want fresh-key", key)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	s := newTestStream(t, nil)
	called := false
	s.OnOrderUpdate(func(*OrderTradeUpdate) { called = true })

	s.handleMessage([]byte(`{"e":"MARGIN_CALL","E":1700000003000}`))
	s.handleMessage([]byte(`not json`))

	if called {
		t.Error("order callback fired for unrelated event")
	}
}
