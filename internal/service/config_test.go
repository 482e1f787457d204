package service

import (
	"testing"

	"ta-enginev1/internal/kernel"
	"ta-enginev1/internal/model"
)

func TestParseKernelSpecs_Defaults(t *testing.T) {
	reqs := ParseKernelSpecs("")
	if len(reqs) != 4 {
		t.Fatalf("expected 4 default requests, got %d", len(reqs))
	}
	if reqs[0].Kernel != kernel.KindRSI || reqs[0].InputField != "close" {
		t.Fatalf("unexpected first default: %+v", reqs[0])
	}
	if reqs[3].Kernel != kernel.KindVWAP {
		t.Fatalf("expected vwap last, got %v", reqs[3].Kernel)
	}
	// Node ids are sequential from 1
	for i, r := range reqs {
		if r.NodeID != uint32(i+1) {
			t.Fatalf("request %d: expected node id %d, got %d", i, i+1, r.NodeID)
		}
	}
}

func TestParseKernelSpecs_Custom(t *testing.T) {
	reqs := ParseKernelSpecs("rsi:high:period=7; atr::period=20 ;vwap")
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}

	if reqs[0].Kernel != kernel.KindRSI {
		t.Errorf("expected rsi kind, got %v", reqs[0].Kernel)
	}
	if reqs[0].InputField != "high" {
		t.Errorf("expected input field high, got %q", reqs[0].InputField)
	}
	if v, ok := reqs[0].Kwargs["period"]; !ok || v.Number() != 7 {
		t.Errorf("expected period=7, got %v", v)
	}

	// Empty field falls back to close
	if reqs[1].InputField != "close" {
		t.Errorf("expected default field close, got %q", reqs[1].InputField)
	}
	if v := reqs[1].Kwargs["period"]; v.Number() != 20 {
		t.Errorf("expected period=20, got %v", v)
	}

	// Bare kernel name, no field, no kwargs
	if reqs[2].Kernel != kernel.KindVWAP || len(reqs[2].Kwargs) != 0 {
		t.Errorf("unexpected vwap request: %+v", reqs[2])
	}
}

func TestParseKernelSpecs_SkipsInvalid(t *testing.T) {
	reqs := ParseKernelSpecs("rsi:close:period=abc;;macd:close")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	// Unparseable kwarg is dropped, not fatal
	if len(reqs[0].Kwargs) != 0 {
		t.Errorf("expected kwarg dropped, got %v", reqs[0].Kwargs)
	}
	// Kernels without incremental state run as generic
	if reqs[1].Kernel != kernel.KindGeneric {
		t.Errorf("expected generic kind for macd, got %v", reqs[1].Kernel)
	}
}

func TestParseKernelSpecs_KwargValues(t *testing.T) {
	reqs := ParseKernelSpecs("stochastic:close:k_period=5:d_period=3")
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	kw := reqs[0].Kwargs
	if kw["k_period"].Kind() != model.KindNumber || kw["k_period"].Number() != 5 {
		t.Errorf("k_period: got %v", kw["k_period"])
	}
	if kw["d_period"].Number() != 3 {
		t.Errorf("d_period: got %v", kw["d_period"])
	}
}
