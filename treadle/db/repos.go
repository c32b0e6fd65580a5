package db

type Repo struct {
	Id    int64  `json:"id"`
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (d *DB) AddRepo(host, owner, name string) error {
	_, err := d.Exec(
		`insert or ignore into repos (host, owner, name) values (?, ?, ?)`,
		host, owner, name,
	)
	return err
}

func (d *DB) RemoveRepo(owner, name string) error {
	_, err := d.Exec(`delete from repos where owner = ? and name = ?`, owner, name)
	return err
}

func (d *DB) GetRepo(owner, name string) (*Repo, error) {
	var repo Repo
	err := d.QueryRow(
		`select id, host, owner, name from repos where owner = ? and name = ?`,
		owner, name,
	).Scan(&repo.Id, &repo.Host, &repo.Owner, &repo.Name)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (d *DB) Repos() ([]Repo, error) {
	rows, err := d.Query(`select id, host, owner, name from repos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.Id, &r.Host, &r.Owner, &r.Name); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}

	return repos, rows.Err()
}
