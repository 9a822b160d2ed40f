package service_test

import (
	"testing"

	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

func TestRenderTemplate(t *testing.T) {
	tpl := &model.Template{
		Subject:   "Action needed: {vendor_name}",
		Body:      "Dear {vendor_name} ({vendor_code}), Udyam {udyam_number}. Region {location}.",
		Variables: []string{"vendor_name", "vendor_code", "udyam_number"},
	}
	v := &model.Vendor{VendorName: "Acme Tools", VendorCode: "AC01", Location: "Pune"}

	got := service.RenderTemplate(tpl, v)

	if got.Subject != "Action needed: Acme Tools" {
		t.Errorf("subject = %q", got.Subject)
	}
	// udyam_number is declared but empty; location has a value but is not declared
	want := "Dear Acme Tools (AC01), Udyam {udyam_number}. Region {location}."
	if got.Body != want {
		t.Errorf("body = %q, want %q", got.Body, want)
	}
}

func TestRenderTemplateDoesNotReexpand(t *testing.T) {
	tpl := &model.Template{Body: "{vendor_name} / {vendor_code}", Variables: []string{"vendor_name", "vendor_code"}}
	v := &model.Vendor{VendorName: "{vendor_code}", VendorCode: "X1"}

	if got := service.RenderTemplate(tpl, v).Body; got != "{vendor_code} / X1" {
		t.Errorf("body = %q", got)
	}
}

func TestRenderStringWithoutData(t *testing.T) {
	if got := service.RenderString("Hello {name}", nil); got != "Hello {name}" {
		t.Errorf("got %q", got)
	}
}
