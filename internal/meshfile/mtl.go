package meshfile

import (
	"strconv"
	"strings"

	"github.com/scenecast/scenecast/internal/scene"
)

// parseMTL reads a material library. Texture maps are resolved through
// res; a map that cannot be loaded leaves the material untextured.
func parseMTL(text string, res Resources) (map[string]*scene.Material, error) {
	mats := map[string]*scene.Material{}
	if strings.TrimSpace(text) == "" {
		return mats, nil
	}

	dec := &objDecoder{}
	var cur *scene.Material
	err := dec.parse([]byte(text), func(fields []string) error {
		args := fields[1:]
		if fields[0] == "newmtl" {
			if len(args) < 1 {
				return dec.formatError("newmtl with no name")
			}
			cur = scene.NewMaterial("MeshPhongMaterial")
			cur.Name = args[0]
			mats[cur.Name] = cur
			return nil
		}
		if cur == nil {
			return nil
		}
		switch fields[0] {
		case "Kd":
			c, err := parseColor(args)
			if err != nil {
				return dec.formatError("Kd: " + err.Error())
			}
			cur.Color = c
		case "Ks", "Ka", "Ke":
			c, err := parseColor(args)
			if err != nil {
				return dec.formatError(fields[0] + ": " + err.Error())
			}
			key := map[string]string{"Ks": "specular", "Ka": "ambient", "Ke": "emissive"}[fields[0]]
			cur.Props[key] = c[:]
		case "Ns":
			v, err := parseScalar(args)
			if err != nil {
				return dec.formatError("Ns: " + err.Error())
			}
			cur.Props["shininess"] = v
		case "d":
			v, err := parseScalar(args)
			if err != nil {
				return dec.formatError("d: " + err.Error())
			}
			cur.Opacity = v
			cur.Transparent = v < 1
		case "Tr":
			v, err := parseScalar(args)
			if err != nil {
				return dec.formatError("Tr: " + err.Error())
			}
			cur.Opacity = 1 - v
			cur.Transparent = v > 0
		case "map_Kd":
			if len(args) < 1 || res == nil {
				return nil
			}
			// options such as -s precede the file name
			if tex, err := res.texture(args[len(args)-1]); err == nil {
				cur.Map = tex
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mats, nil
}

func parseColor(args []string) ([3]float64, error) {
	var c [3]float64
	if len(args) < 3 {
		return c, strconv.ErrSyntax
	}
	for i := range c {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return c, err
		}
		c[i] = v
	}
	return c, nil
}

func parseScalar(args []string) (float64, error) {
	if len(args) < 1 {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(args[0], 64)
}
