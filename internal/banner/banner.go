package banner

import (
	"stagerun/internal/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
       __                                 
  ___ / /____ ____ ____ _______ ______    
 (_-</ __/ _ '/ _ '/ -_) __/ // / _ \   
/___/\__/\_,_/\_, /\__/_/  \_,_/_//_/   
             /___/                      `

	return "\n" + style.Render(ascii) + "\n"
}
