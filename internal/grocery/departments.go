package grocery

import "strings"

// department order is fixed; the first matching department wins and
// unmatched items land in Other.
var departments = []struct {
	name     string
	keywords []string
}{
	{"Produce", []string{
		"apple", "banana", "berry", "berries", "orange", "lime", "lemon", "avocado",
		"lettuce", "spinach", "kale", "arugula", "cabbage", "broccoli", "cauliflower",
		"tomato", "onion", "garlic", "ginger", "pepper", "carrot", "potato", "zucchini",
		"cucumber", "celery", "mushroom", "scallion", "cilantro", "parsley", "basil",
		"herb", "fruit", "vegetable", "squash", "corn",
	}},
	{"Dairy", []string{
		"milk", "cheese", "cheddar", "mozzarella", "parmesan", "feta", "yogurt",
		"butter", "cream", "egg",
	}},
	{"Meat & Seafood", []string{
		"chicken", "beef", "pork", "turkey", "lamb", "bacon", "sausage", "ham",
		"steak", "ground meat", "salmon", "shrimp", "tuna", "cod", "fish",
	}},
	{"Bakery", []string{
		"bread", "bun", "roll", "tortilla", "bagel", "pita", "baguette", "croissant",
	}},
	{"Frozen", []string{
		"frozen", "ice cream",
	}},
	{"Canned Goods", []string{
		"canned", "can of", "broth", "stock", "chickpea", "black bean", "kidney bean",
		"coconut milk", "tomato paste", "tomato sauce",
	}},
	{"Dry Goods", []string{
		"rice", "pasta", "noodle", "flour", "sugar", "oat", "quinoa", "lentil",
		"cereal", "breadcrumb", "cornstarch", "bean",
	}},
	{"Condiments", []string{
		"oil", "vinegar", "salt", "soy sauce", "fish sauce", "ketchup", "mustard",
		"mayo", "salsa", "hot sauce", "honey", "maple syrup", "sauce", "dressing",
		"spice", "cumin", "paprika", "oregano", "cinnamon", "chili powder",
	}},
	{"Beverages", []string{
		"water", "juice", "coffee", "tea", "soda", "wine", "beer",
	}},
}

const departmentOther = "Other"

// departmentFor maps an item name to a department by case-insensitive
// keyword matching. First matching department wins.
func departmentFor(name string) string {
	lower := strings.ToLower(name)
	for _, d := range departments {
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				return d.name
			}
		}
	}
	return departmentOther
}

// OrganizeByDepartment regroups a flat item set into department sections.
// No input item is ever dropped: unmatched items go to Other, empty
// departments are omitted, and when excludeChecked is set the checked
// items (by flag or by presence in checkedIDs) are pulled out of their
// departments and re-appended as a single trailing Other bucket.
func OrganizeByDepartment(items []Item, excludeChecked bool, checkedIDs map[string]bool) []Section {
	buckets := make(map[string][]Item)
	var checked []Item

	isChecked := func(it Item) bool {
		return it.Checked || (checkedIDs != nil && checkedIDs[it.ID])
	}

	for _, it := range items {
		if excludeChecked && isChecked(it) {
			checked = append(checked, it)
			continue
		}
		dept := departmentFor(it.Name)
		buckets[dept] = append(buckets[dept], it)
	}

	sections := []Section{}
	for _, d := range departments {
		if len(buckets[d.name]) > 0 {
			sections = append(sections, Section{Name: d.name, Items: buckets[d.name]})
		}
	}
	other := buckets[departmentOther]
	other = append(other, checked...)
	if len(other) > 0 {
		sections = append(sections, Section{Name: departmentOther, Items: other})
	}
	return sections
}
