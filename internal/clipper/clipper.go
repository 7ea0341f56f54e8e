package clipper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"meal-assistant/internal/llm"
	"meal-assistant/internal/meal"

	"github.com/PuerkitoBio/goquery"
)

// Clipper fetches a recipe web page and extracts it as a meal that can be
// added to the current plan.
type Clipper struct {
	textGen    llm.TextGenerator
	httpClient *http.Client
}

// NewClipper creates a new Clipper instance.
func NewClipper(textGen llm.TextGenerator) *Clipper {
	return &Clipper{
		textGen: textGen,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ClipURL fetches the URL and extracts a normalized meal from its content.
func (c *Clipper) ClipURL(ctx context.Context, url string) (meal.Meal, error) {
	content, err := c.fetchAndCleanHTML(url)
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to fetch content: %w", err)
	}

	prompt := fmt.Sprintf(`
You are a recipe extraction expert. Extract the recipe details from the following page content.
Return the result strictly as a JSON object with this structure:
{
  "name": "Recipe Title",
  "description": "One-sentence description",
  "ingredients": ["quantity + name", ...],
  "instructions": ["Step 1 description", "Step 2 description", ...],
  "prepTime": 30,
  "servings": 4
}

Return ONLY the raw JSON object. Do not wrap the response in markdown code blocks.

Page Content:
%s
`, content)

	resp, err := c.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		return meal.Meal{}, fmt.Errorf("ai extraction failed: %w", err)
	}

	extracted, err := meal.NormalizeJSON([]byte(resp.Content))
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to parse extracted recipe: %w. Response: %s", err, resp.Content)
	}
	extracted.Description = appendSource(extracted.Description, url)
	return extracted, nil
}

func (c *Clipper) fetchAndCleanHTML(url string) (string, error) {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save LLM tokens
	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return doc.Find("body").Text(), nil
}

func appendSource(description, url string) string {
	if description == "" {
		return fmt.Sprintf("Imported from %s", url)
	}
	return fmt.Sprintf("%s (imported from %s)", description, url)
}
