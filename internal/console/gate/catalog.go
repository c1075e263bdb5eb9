package gate

import (
	"sort"
	"strings"
)

type Category struct {
	Name string
	ID   string
}

// Catalog is the fixed, ordered set of categories an operator may select.
type Catalog []Category

// DefaultCatalog is the category set the scraper understands out of the box.
func DefaultCatalog() Catalog {
	return Catalog{
		{"Fruits", "6000213114"},
		{"Vegetables", "6000213167"},
		{"Rice_Grains_Nuts", "6000215152"},
		{"Meat_Eggs", "6000215194"},
		{"Seafood_DriedSeafood", "6000213469"},
		{"Milk_Dairy", "6000213534"},
		{"MealKits_ConvenienceFood", "6000213247"},
		{"Kimchi_SideDishes_Deli", "6000213299"},
		{"Water_Beverages_Alcohol", "6000213424"},
		{"Coffee_Beans_Tea", "6000215245"},
		{"Noodles_CannedGoods", "6000213319"},
		{"Seasoning_Oil", "6000215286"},
		{"Snacks_Treats", "6000213362"},
		{"Bakery_Jam", "6000213412"},
	}
}

// CatalogFromMap builds a catalog from a name -> id map, sorted by name.
func CatalogFromMap(m map[string]string) Catalog {
	out := make(Catalog, 0, len(m))
	for name, id := range m {
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if name == "" || id == "" {
			continue
		}
		out = append(out, Category{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a category by name, case-insensitively.
func (c Catalog) Lookup(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, cat := range c {
		if strings.EqualFold(cat.Name, name) {
			return cat, true
		}
	}
	return Category{}, false
}

func (c Catalog) Names() []string {
	out := make([]string, len(c))
	for i, cat := range c {
		out[i] = cat.Name
	}
	return out
}
