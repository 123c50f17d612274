package catalog

// DiseaseNames maps catalog codes to their display names.
var DiseaseNames = map[string]string{
	"NORMAL": "Normal Retina",
	"DR":     "Diabetic Retinopathy",
	"ARMD":   "Age-related Macular Degeneration",
	"BRVO":   "Branch Retinal Vein Occlusion",
	"CRVO":   "Central Retinal Vein Occlusion",
	"CSR":    "Central Serous Retinopathy",
	"CRS":    "Chorioretinitis",
	"CNV":    "Choroidal Neovascularization",
	"DN":     "Drusen",
	"HTR":    "Hypertensive Retinopathy",
	"LS":     "Lattice Degeneration",
	"MH":     "Macular Hole",
	"MYA":    "Myopia",
	"ODE":    "Optic Disc Edema",
	"ODC":    "Optic Disc Cupping",
	"ODP":    "Optic Disc Pallor",
	"RS":     "Retinal Scar",
	"TSLN":   "Tessellated Fundus",
	"ASR":    "Acute Serous Retinopathy",
	"OTHER":  "Other Conditions",
}

// FullName returns the display name for code, or code itself when the
// table has no entry for it.
func FullName(code string) string {
	if name, ok := DiseaseNames[code]; ok {
		return name
	}
	return code
}
