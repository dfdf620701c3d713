package models

// DateLayout формат due_date (ISO-8601, без времени)
const DateLayout = "2006-01-02"

// Task задача в том виде, в котором она хранится в таблице tasks
type Task struct {
	ID          int64
	Description string
	DueDate     string
	Status      bool
	CreatedAt   string
}

// NewTask данные для создания задачи; id и created_at назначает хранилище
type NewTask struct {
	Description string
	DueDate     string
	Status      bool
}

// TaskPatch частичное обновление: nil означает "поле не передано"
type TaskPatch struct {
	Description *string
	DueDate     *string
	Status      *bool
}

func (p TaskPatch) IsEmpty() bool {
	return p.Description == nil && p.DueDate == nil && p.Status == nil
}

// Page одна страница списка для HTML-интерфейса
type Page struct {
	Tasks      []Task
	Number     int
	PerPage    int
	Total      int
	TotalPages int
}

func (p Page) HasPrev() bool { return p.Number > 1 }

func (p Page) HasNext() bool { return p.Number < p.TotalPages }
