// internal/model/vendor.go
package model

type Vendor struct {
	ID               string `db:"id" json:"id"`
	VendorName       string `db:"vendor_name" json:"vendor_name"`
	VendorCode       string `db:"vendor_code" json:"vendor_code"`
	Email            string `db:"email" json:"email,omitempty"`
	Phone            string `db:"phone" json:"phone,omitempty"`
	Location         string `db:"location" json:"location,omitempty"`
	BusinessCategory string `db:"business_category" json:"business_category,omitempty"`
	UdyamNumber      string `db:"udyam_number" json:"udyam_number,omitempty"`
}

// Fields exposes the vendor attributes a template may reference.
// Empty attributes are left out so their placeholders survive rendering.
func (v *Vendor) Fields() map[string]string {
	all := map[string]string{
		"vendor_name":       v.VendorName,
		"vendor_code":       v.VendorCode,
		"email":             v.Email,
		"phone":             v.Phone,
		"location":          v.Location,
		"business_category": v.BusinessCategory,
		"udyam_number":      v.UdyamNumber,
	}
	out := make(map[string]string, len(all))
	for k, val := range all {
		if val != "" {
			out[k] = val
		}
	}
	return out
}
