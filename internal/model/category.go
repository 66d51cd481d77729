package model

// Category は記事カテゴリを表す。スラッグは固定のタクソノミーから選ばれる。
type Category struct {
	ID   string
	Slug string
	Name string
}

// カテゴリスラッグ
const (
	CategoryPolitics      = "politics"
	CategoryWorld         = "world"
	CategoryBusiness      = "business"
	CategoryTechnology    = "technology"
	CategorySports        = "sports"
	CategoryEntertainment = "entertainment"
	CategoryScience       = "science"
	CategoryHealth        = "health"
	CategoryLifestyle     = "lifestyle"
	CategoryOpinion       = "opinion"
	CategoryTop           = "top"
	CategoryLocal         = "local"
)

// DefaultCategory は分類できなかった記事のカテゴリ。
const DefaultCategory = CategoryTop

// CategorySlugs はマイグレーションで投入されるカテゴリスラッグの一覧。
var CategorySlugs = []string{
	CategoryPolitics,
	CategoryWorld,
	CategoryBusiness,
	CategoryTechnology,
	CategorySports,
	CategoryEntertainment,
	CategoryScience,
	CategoryHealth,
	CategoryLifestyle,
	CategoryOpinion,
	CategoryTop,
	CategoryLocal,
}

// IsKnownCategory はスラッグが既知のカテゴリかを返す。
func IsKnownCategory(slug string) bool {
	for _, s := range CategorySlugs {
		if s == slug {
			return true
		}
	}
	return false
}
