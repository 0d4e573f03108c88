package template

// Definition is one entry of the built-in image catalog.
type Definition struct {
	Name string
	URL  string
}

// Catalog maps built-in image names to their OVA download locations.
// Cloud images ship without a guest agent; the first-boot cloud-init run
// installs it before the image is converted to a template.
var Catalog = map[string]Definition{
	"ubuntu-24.04": {
		Name: "ubuntu-24.04",
		URL:  "https://cloud-images.ubuntu.com/releases/noble/release/ubuntu-24.04-server-cloudimg-amd64.ova",
	},
	"ubuntu-22.04": {
		Name: "ubuntu-22.04",
		URL:  "https://cloud-images.ubuntu.com/releases/jammy/release/ubuntu-22.04-server-cloudimg-amd64.ova",
	},
}
